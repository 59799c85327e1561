package server

import (
	"bufio"
	"net"
	"strings"

	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/replication"
	"github.com/dayday/redisserver/internal/resp"
)

// handleConnection owns one client connection end to end: it frames
// commands off the wire, dispatches each one, and writes the reply.
// A PSYNC request upgrades the connection into a replication follower
// link for the rest of its lifetime — once upgraded, every subsequent
// frame is expected to be a REPLCONF ACK and is routed to the
// follower handle instead of the normal command table. A panic from
// any single command's dispatch is recovered, logged, and turned into
// the same protocol error + close a malformed frame would produce, so
// one bad command can never take the accept loop or other connections
// down with it.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	c := &clientConn{server: s, conn: conn, reader: bufio.NewReaderSize(conn, 16*1024)}
	c.serve()
	if c.follower != nil {
		s.Leader.RemoveFollower(c.follower)
	}
}

type clientConn struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	buf    []byte

	follower *replication.FollowerHandle
}

func (c *clientConn) serve() {
	readBuf := make([]byte, 16*1024)
	for {
		args, consumed, err := resp.ParseCommand(c.buf)
		if err == resp.ErrIncomplete {
			n, rerr := c.reader.Read(readBuf)
			if n > 0 {
				c.buf = append(c.buf, readBuf[:n]...)
			}
			if rerr != nil {
				return
			}
			continue
		}
		if err == resp.ErrProtocol {
			c.conn.Write(resp.Error("ERR protocol error"))
			return
		}
		c.buf = c.buf[consumed:]
		if len(args) == 0 {
			continue
		}

		if c.follower != nil {
			c.handleFollowerFrame(args)
			continue
		}
		if !c.dispatchRecovered(args) {
			return
		}
	}
}

// handleFollowerFrame processes a frame from an already-upgraded
// follower connection: only REPLCONF ACK is expected, and it is never
// answered, matching the original handshake's "we don't need to
// respond to ACK commands" note.
func (c *clientConn) handleFollowerFrame(args []string) {
	if len(args) >= 3 && strings.ToUpper(args[0]) == "REPLCONF" && strings.ToUpper(args[1]) == "ACK" {
		offset, err := parseOffset(args[2])
		if err == nil {
			c.follower.RecordAck(offset)
		}
	}
}

// dispatchRecovered runs dispatch under recover, returning false if the
// connection should be closed because of a panic while handling args.
func (c *clientConn) dispatchRecovered(args []string) (keepOpen bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("server: panic handling %s: %v", strings.ToUpper(args[0]), r)
			c.conn.Write(resp.Error("ERR protocol error"))
			keepOpen = false
		}
	}()
	return c.dispatch(args)
}
