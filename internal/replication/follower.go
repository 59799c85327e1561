package replication

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/resp"
)

// Apply is called once per command the leader streams after the
// initial snapshot. It must apply the command's effect to the local
// keyspace; it is never called for REPLCONF/PING frames, which Stream
// handles itself.
type Apply func(args []string) error

// Stream reads commands from the leader connection forever, applying
// each one and advancing the follower's offset by its exact wire
// size. REPLCONF GETACK is answered with the offset as of just before
// this frame, and only then does the frame's own size get folded into
// the offset — the same before/after split the offset asymmetry in a
// GETACK round trip requires: the ACK reports where the follower
// stood, and only afterwards does replaying the GETACK frame itself
// count. Every other frame (PING, REPLCONF listening-port/capa,
// ordinary writes) simply adds its size to the running offset once
// applied. Stream returns when the connection is closed or a frame
// fails to parse.
func (f *Follower) Stream(apply Apply) error {
	readBuf := make([]byte, 64*1024)
	for {
		args, consumed, err := resp.ParseCommand(f.buf)
		if err == resp.ErrIncomplete {
			n, rerr := f.reader.Read(readBuf)
			if n > 0 {
				f.buf = append(f.buf, readBuf[:n]...)
			}
			if rerr != nil {
				return fmt.Errorf("replication: read from leader: %w", rerr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("replication: parse command from leader: %w", err)
		}
		f.buf = f.buf[consumed:]

		if len(args) == 0 {
			continue
		}
		cmd := strings.ToUpper(args[0])

		switch cmd {
		case "REPLCONF":
			if len(args) >= 2 && strings.ToUpper(args[1]) == "GETACK" {
				ack := resp.EncodeCommand("REPLCONF", "ACK", strconv.FormatInt(f.offset, 10))
				if _, werr := f.conn.Write(ack); werr != nil {
					return fmt.Errorf("replication: send ACK: %w", werr)
				}
			}
			f.offset += int64(consumed)
		case "PING":
			f.offset += int64(consumed)
		default:
			if err := apply(args); err != nil {
				logger.Warn("replication: apply %s from leader failed: %v", cmd, err)
			}
			f.offset += int64(consumed)
		}
	}
}
