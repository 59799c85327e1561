// Package replication implements the leader side (follower registry,
// command propagation, WAIT barrier) and the follower side (outbound
// handshake, streamed command application) of PSYNC/REPLCONF/WAIT
// replication.
package replication

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
)

// Role distinguishes a standalone/leader instance from a follower.
type Role int

const (
	// RoleLeader is the default: the instance accepts PSYNC requests
	// and propagates writes to any connected followers.
	RoleLeader Role = iota
	// RoleFollower means the instance was started with --replicaof and
	// streams its keyspace from an upstream leader.
	RoleFollower
)

// FollowerHandle tracks one connected follower on the leader side: its
// outbound writer and the last offset it acknowledged via
// REPLCONF ACK.
type FollowerHandle struct {
	Addr string

	conn   net.Conn
	writer *bufio.Writer
	mu     sync.Mutex // guards writer; acks update ackOffset only

	ackOffset atomic.Int64
}

func newFollowerHandle(conn net.Conn) *FollowerHandle {
	return &FollowerHandle{
		Addr:   conn.RemoteAddr().String(),
		conn:   conn,
		writer: bufio.NewWriter(conn),
	}
}

// send writes a propagated frame to this follower, flushing
// immediately so offset accounting on both sides stays byte-exact.
func (f *FollowerHandle) send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.writer.Write(frame); err != nil {
		return err
	}
	return f.writer.Flush()
}

// RecordAck updates the offset this follower last acknowledged via
// REPLCONF ACK <offset>, never letting it regress on an out-of-order
// ACK.
func (f *FollowerHandle) RecordAck(offset int64) {
	for {
		current := f.ackOffset.Load()
		if offset <= current {
			return
		}
		if f.ackOffset.CompareAndSwap(current, offset) {
			return
		}
	}
}

// AckOffset returns the last acknowledged offset.
func (f *FollowerHandle) AckOffset() int64 {
	return f.ackOffset.Load()
}
