package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dayday/redisserver/internal/keyspace"
	"github.com/dayday/redisserver/internal/replication"
	"github.com/dayday/redisserver/internal/resp"
)

// dispatch executes one client command and writes its reply to the
// connection. It returns false when the connection must be closed —
// currently only when PSYNC fails to send the full resync. A successful
// PSYNC returns true after setting c.follower, which upgrades the
// connection into a replication follower link.
func (c *clientConn) dispatch(args []string) bool {
	c.server.Stats.CommandsProcessed.Add(1)
	cmd := upper(args[0])

	switch cmd {
	case "PING":
		c.conn.Write(resp.SimpleString("PONG"))

	case "ECHO":
		if len(args) < 2 {
			c.conn.Write(resp.Error("ERR wrong number of arguments for 'echo' command"))
			return true
		}
		c.conn.Write(resp.BulkString(args[1]))

	case "SET":
		c.cmdSet(args)

	case "GET":
		c.cmdGet(args)

	case "DEL":
		c.cmdDel(args)

	case "INCR":
		c.cmdIncr(args)

	case "CONFIG":
		c.cmdConfig(args)

	case "KEYS":
		c.cmdKeys(args)

	case "INFO":
		c.cmdInfo(args)

	case "REPLCONF":
		c.cmdReplconf(args)

	case "PSYNC":
		return c.cmdPsync(args)

	case "WAIT":
		c.cmdWait(args)

	default:
		c.conn.Write(resp.Error(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd))))
	}
	return true
}

func (c *clientConn) cmdSet(args []string) {
	if len(args) < 3 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'set' command"))
		return
	}
	key, value := args[1], args[2]

	var ttl time.Duration
	hasPX := false
	if len(args) >= 5 && upper(args[3]) == "PX" {
		ms, err := strconv.Atoi(args[4])
		if err != nil {
			c.conn.Write(resp.Error("ERR value is not an integer or out of range"))
			return
		}
		ttl = time.Duration(ms) * time.Millisecond
		hasPX = true
	}

	if hasPX {
		c.server.Keyspace.SetPX(key, value, ttl)
	} else {
		c.server.Keyspace.Set(key, value)
	}

	if c.server.role == replication.RoleLeader {
		var frame []byte
		if hasPX {
			frame = resp.EncodeCommand("SET", key, value, "PX", args[4])
		} else {
			frame = resp.EncodeCommand("SET", key, value)
		}
		c.server.Leader.Propagate(frame)
		c.server.Stats.BytesPropagated.Add(int64(len(frame)))
	}

	c.conn.Write(resp.SimpleString("OK"))
}

func (c *clientConn) cmdGet(args []string) {
	if len(args) < 2 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'get' command"))
		return
	}
	value, ok := c.server.Keyspace.Get(args[1])
	if !ok {
		c.conn.Write(resp.NullBulkString())
		return
	}
	c.conn.Write(resp.BulkString(value))
}

func (c *clientConn) cmdDel(args []string) {
	if len(args) < 2 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'del' command"))
		return
	}
	var deleted int64
	for _, key := range args[1:] {
		if c.server.Keyspace.Del(key) {
			deleted++
		}
	}
	if c.server.role == replication.RoleLeader {
		frame := resp.EncodeCommand(append([]string{"DEL"}, args[1:]...)...)
		c.server.Leader.Propagate(frame)
		c.server.Stats.BytesPropagated.Add(int64(len(frame)))
	}
	c.conn.Write(resp.Integer(deleted))
}

func (c *clientConn) cmdIncr(args []string) {
	if len(args) < 2 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'incr' command"))
		return
	}
	value, err := c.server.Keyspace.Incr(args[1])
	if err != nil {
		if keyspace.IsNotAnInteger(err) {
			c.conn.Write(resp.Error("ERR value is not an integer or out of range"))
			return
		}
		c.conn.Write(resp.Error("ERR " + err.Error()))
		return
	}
	if c.server.role == replication.RoleLeader {
		frame := resp.EncodeCommand("INCR", args[1])
		c.server.Leader.Propagate(frame)
		c.server.Stats.BytesPropagated.Add(int64(len(frame)))
	}
	c.conn.Write(resp.Integer(value))
}

func (c *clientConn) cmdConfig(args []string) {
	if len(args) < 3 || upper(args[1]) != "GET" {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'config' command"))
		return
	}
	param := strings.ToLower(args[2])
	value, ok := c.server.configParam(param)
	if !ok {
		c.conn.Write(resp.Array(nil))
		return
	}
	c.conn.Write(resp.Array([]string{param, value}))
}

func (c *clientConn) cmdKeys(args []string) {
	if len(args) < 2 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'keys' command"))
		return
	}
	// Only the "*" pattern (match-everything) is supported.
	c.conn.Write(resp.Array(c.server.Keyspace.Keys()))
}

func (c *clientConn) cmdInfo(args []string) {
	section := ""
	if len(args) >= 2 {
		section = strings.ToLower(args[1])
	}
	if section != "" && section != "replication" {
		c.conn.Write(resp.BulkString(""))
		return
	}
	c.conn.Write(resp.BulkString(c.server.replicationInfo()))
}

func (c *clientConn) cmdReplconf(args []string) {
	if len(args) < 2 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'replconf' command"))
		return
	}
	switch strings.ToLower(args[1]) {
	case "listening-port", "capa":
		c.conn.Write(resp.SimpleString("OK"))
	case "ack":
		// Handled on an upgraded follower connection, never reached here
		// for an ordinary client; reply defensively anyway.
		c.conn.Write(resp.SimpleString("OK"))
	case "getack":
		// A client should never send GETACK; only a leader does, to its
		// own follower connections, which take the handleFollowerFrame
		// path instead of dispatch.
		c.conn.Write(resp.Error("ERR unexpected REPLCONF GETACK from client"))
	default:
		c.conn.Write(resp.Error("ERR unknown REPLCONF subcommand"))
	}
}

func (c *clientConn) cmdPsync(args []string) bool {
	if len(args) < 3 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'psync' command"))
		return true
	}
	if args[1] != "?" || args[2] != "-1" {
		c.conn.Write(resp.Error("ERR partial resync not supported"))
		return true
	}
	handle, err := c.server.Leader.BeginFullResync(c.conn)
	if err != nil {
		return false
	}
	c.follower = handle
	return true
}

func (c *clientConn) cmdWait(args []string) {
	if len(args) < 3 {
		c.conn.Write(resp.Error("ERR wrong number of arguments for 'wait' command"))
		return
	}
	numReplicas, err1 := strconv.Atoi(args[1])
	timeoutMs, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		c.conn.Write(resp.Error("ERR invalid number format"))
		return
	}
	c.server.Stats.WaitCalls.Add(1)
	acked := c.server.Leader.Wait(numReplicas, time.Duration(timeoutMs)*time.Millisecond)
	c.conn.Write(resp.Integer(int64(acked)))
}

func upper(s string) string { return strings.ToUpper(s) }

func parseOffset(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
