package server

import (
	"bytes"
	"fmt"

	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/rdb"
	"github.com/dayday/redisserver/internal/replication"
)

// ConnectToLeader performs the outbound replication handshake against
// host:port, loads the snapshot it sends, and then streams commands
// from it forever, applying each to the local keyspace. It blocks for
// the lifetime of the connection and is meant to run in its own
// goroutine from cmd/redisserver.
func (s *Server) ConnectToLeader(host string, port int) error {
	follower, err := replication.Dial(host, port, s.port)
	if err != nil {
		return err
	}
	defer follower.Close()
	logger.Console("connected to leader at %s:%d", host, port)

	snapshot, err := follower.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("server: load snapshot from leader: %w", err)
	}
	dec, err := rdb.NewDecoder(bytes.NewReader(snapshot))
	if err != nil {
		return fmt.Errorf("server: decode snapshot from leader: %w", err)
	}
	loaded := 0
	for {
		entry, err := dec.Next()
		if err != nil {
			break
		}
		if entry.DB != 0 {
			continue
		}
		s.Keyspace.SetAt(entry.Key, entry.Value, entry.Deadline)
		loaded++
	}
	s.Stats.LZFStringsDecoded.Add(dec.LZFStringsDecoded.Load())
	logger.Info("server: loaded %d keys from leader snapshot", loaded)

	return follower.Stream(s.ApplyFromLeader)
}
