// Package server implements the connection engine: accepting client
// connections, framing commands off the wire, dispatching them, and
// upgrading a connection to a replication follower link on PSYNC.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dayday/redisserver/internal/keyspace"
	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/rdb"
	"github.com/dayday/redisserver/internal/replication"
)

// Server owns the keyspace, the replication leader state for any
// followers attached to it, and (if started with --replicaof) the
// follower link to its own upstream leader.
type Server struct {
	Keyspace *keyspace.Keyspace
	Leader   *replication.Leader
	Stats    *Stats

	role     replication.Role
	port     int
	dir      string
	dbFile   string
}

// Options configures a new Server.
type Options struct {
	Port                 int
	Dir                  string
	DBFilename           string
	ReplicationRateLimit int64
	IsFollower           bool
}

// New builds a Server ready to Listen. It does not load a snapshot or
// dial an upstream leader; callers orchestrate bootstrap order from
// cmd/redisserver so logging and error reporting stay in one place.
func New(opts Options) *Server {
	role := replication.RoleLeader
	if opts.IsFollower {
		role = replication.RoleFollower
	}
	return &Server{
		Keyspace: keyspace.New(),
		Leader:   replication.NewLeader(opts.ReplicationRateLimit),
		Stats:    &Stats{},
		role:     role,
		port:     opts.Port,
		dir:      opts.Dir,
		dbFile:   opts.DBFilename,
	}
}

// LoadSnapshot loads dir/dbFilename into the keyspace if it exists. A
// missing file is not an error: the keyspace simply starts empty, the
// same behavior original_source.parse_rdb_file has for a missing
// dump.rdb.
func (s *Server) LoadSnapshot() error {
	path := s.dir + "/" + s.dbFile
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("server: open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := rdb.NewDecoder(f)
	if err != nil {
		logger.Warn("server: snapshot %s is not a valid RDB file, starting empty: %v", path, err)
		return nil
	}
	count := 0
	for {
		entry, err := dec.Next()
		if err != nil {
			break
		}
		if entry.DB != 0 {
			continue
		}
		s.Keyspace.SetAt(entry.Key, entry.Value, entry.Deadline)
		count++
	}
	s.Stats.LZFStringsDecoded.Add(dec.LZFStringsDecoded.Load())
	logger.Info("server: loaded %d keys from %s", count, path)
	return nil
}

// Listen accepts connections on addr (e.g. "0.0.0.0:6379") until the
// listener is closed or an unrecoverable accept error occurs.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	defer ln.Close()
	logger.Console("listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		s.Stats.ConnectionsAccepted.Add(1)
		go s.handleConnection(conn)
	}
}

// ApplyFromLeader applies one command streamed from this instance's
// upstream leader to the local keyspace. It is the replication.Apply
// callback passed to replication.Follower.Stream.
func (s *Server) ApplyFromLeader(args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch upper(args[0]) {
	case "SET":
		return s.applySet(args)
	case "DEL":
		for _, key := range args[1:] {
			s.Keyspace.Del(key)
		}
	case "INCR":
		if len(args) >= 2 {
			if _, err := s.Keyspace.Incr(args[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// configParam answers CONFIG GET for the handful of parameters this
// server tracks; param is already lowercased.
func (s *Server) configParam(param string) (string, bool) {
	switch param {
	case "dir":
		return s.dir, true
	case "dbfilename":
		return s.dbFile, true
	default:
		return "", false
	}
}

// replicationInfo builds the body of INFO replication: role, and for a
// leader, its replication ID and current offset.
func (s *Server) replicationInfo() string {
	if s.role == replication.RoleFollower {
		return "role:slave"
	}
	return fmt.Sprintf("role:master\r\nmaster_replid:%s\r\nmaster_repl_offset:%d",
		replication.ReplicationID, s.Leader.Offset())
}

func (s *Server) applySet(args []string) error {
	if len(args) < 3 {
		return nil
	}
	key, value := args[1], args[2]
	if len(args) >= 5 && upper(args[3]) == "PX" {
		ms, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("server: bad PX value %q", args[4])
		}
		s.Keyspace.SetPX(key, value, time.Duration(ms)*time.Millisecond)
		return nil
	}
	s.Keyspace.Set(key, value)
	return nil
}
