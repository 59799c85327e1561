package replication

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/rdb"
	"github.com/dayday/redisserver/internal/resp"
)

// ReplicationID is a fixed 40-character hex string the leader reports
// in FULLRESYNC and INFO replication, matching the length (but not the
// exact value) real Redis generates randomly at startup.
const ReplicationID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"

// Leader tracks connected followers and the master replication offset:
// the number of bytes of command stream propagated so far.
type Leader struct {
	mu        sync.Mutex
	followers map[*FollowerHandle]struct{}
	offset    int64

	limiter *rate.Limiter // nil means unlimited, mirrors flow writers defaulting to rate.Inf
}

// NewLeader returns a Leader with no connected followers. ratePerSec,
// if positive, throttles propagation through one limiter shared by all
// followers, so every frame sent to any follower draws on the same
// ratePerSec budget.
func NewLeader(ratePerSec int64) *Leader {
	l := &Leader{followers: make(map[*FollowerHandle]struct{})}
	if ratePerSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec))
	}
	return l
}

// Offset returns the current master replication offset.
func (l *Leader) Offset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// FollowerCount returns the number of currently connected followers.
func (l *Leader) FollowerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.followers)
}

// BeginFullResync replies FULLRESYNC plus a bulk-framed empty snapshot
// over conn, the way PSYNC ? -1 is answered for a full resync. The
// snapshot bulk frame carries no trailing "\r\n" — snapshot transfers
// are not terminated like ordinary bulk replies.
func (l *Leader) BeginFullResync(conn net.Conn) (*FollowerHandle, error) {
	l.mu.Lock()
	offset := l.offset
	l.mu.Unlock()

	reply := fmt.Sprintf("+FULLRESYNC %s %d\r\n", ReplicationID, offset)
	if _, err := conn.Write([]byte(reply)); err != nil {
		return nil, fmt.Errorf("replication: write FULLRESYNC: %w", err)
	}

	snapshot := rdb.EmptySnapshot()
	header := fmt.Sprintf("$%d\r\n", len(snapshot))
	if _, err := conn.Write([]byte(header)); err != nil {
		return nil, fmt.Errorf("replication: write snapshot header: %w", err)
	}
	if _, err := conn.Write(snapshot); err != nil {
		return nil, fmt.Errorf("replication: write snapshot body: %w", err)
	}

	handle := newFollowerHandle(conn)
	l.mu.Lock()
	l.followers[handle] = struct{}{}
	l.mu.Unlock()
	logger.Info("replication: follower %s attached (full resync at offset %d)", handle.Addr, offset)
	return handle, nil
}

// RemoveFollower drops a follower from the registry, e.g. once its
// connection closes.
func (l *Leader) RemoveFollower(h *FollowerHandle) {
	l.mu.Lock()
	delete(l.followers, h)
	l.mu.Unlock()
	logger.Info("replication: follower %s detached", h.Addr)
}

// Propagate sends a command frame to every connected follower and
// advances the master offset by its length, the way a real leader
// propagates a write before acknowledging the client that issued it.
// The offset advances even when no follower is connected: it counts the
// command stream, not successful deliveries.
func (l *Leader) Propagate(frame []byte) {
	l.mu.Lock()
	l.offset += int64(len(frame))
	followers := make([]*FollowerHandle, 0, len(l.followers))
	for f := range l.followers {
		followers = append(followers, f)
	}
	l.mu.Unlock()

	for _, f := range followers {
		if l.limiter != nil {
			_ = l.limiter.WaitN(context.Background(), len(frame))
		}
		if err := f.send(frame); err != nil {
			logger.Warn("replication: propagate to %s failed: %v", f.Addr, err)
		}
	}
}

// getackFrame is the fixed REPLCONF GETACK * frame the leader sends to
// poll followers during WAIT.
var getackFrame = resp.EncodeCommand("REPLCONF", "GETACK", "*")

// Wait implements the WAIT command: it blocks until at least
// numReplicas followers have acknowledged the leader's current offset,
// or timeout elapses, and returns however many had acknowledged by
// then. numReplicas == 0 always returns immediately. If the master
// offset is still zero (nothing has ever been propagated) every
// connected follower is already trivially caught up.
func (l *Leader) Wait(numReplicas int, timeout time.Duration) int {
	if numReplicas == 0 {
		return 0
	}

	l.mu.Lock()
	target := l.offset
	followers := make([]*FollowerHandle, 0, len(l.followers))
	for f := range l.followers {
		followers = append(followers, f)
	}
	l.mu.Unlock()

	if len(followers) == 0 {
		return 0
	}
	if target == 0 {
		return len(followers)
	}

	for _, f := range followers {
		if err := f.send(getackFrame); err != nil {
			logger.Warn("replication: GETACK to %s failed: %v", f.Addr, err)
		}
	}
	// Sending GETACK itself advances the offset other followers must
	// eventually catch up to, the same as any other propagated frame.
	l.mu.Lock()
	l.offset += int64(len(getackFrame))
	l.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		acked := 0
		for _, f := range followers {
			if f.AckOffset() >= target {
				acked++
			}
		}
		if acked >= numReplicas || time.Now().After(deadline) {
			return acked
		}
		time.Sleep(time.Millisecond)
	}
}
