// Command redisserver runs a single-node, in-memory key-value server
// speaking a RESP-family wire protocol, optionally replicating from an
// upstream leader or accepting its own followers via PSYNC.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dayday/redisserver/internal/config"
	"github.com/dayday/redisserver/internal/logger"
	"github.com/dayday/redisserver/internal/server"
)

func main() {
	cfg, err := config.Load(flag.NewFlagSet("redisserver", flag.ContinueOnError), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogDir, cfg.LogLevel, "redisserver"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close()

	srv := server.New(server.Options{
		Port:                 cfg.Port,
		Dir:                  cfg.Dir,
		DBFilename:           cfg.DBFilename,
		ReplicationRateLimit: cfg.ReplicationRateLimit,
		IsFollower:           cfg.IsReplica,
	})

	if err := srv.LoadSnapshot(); err != nil {
		logger.Error("failed to load snapshot: %v", err)
	}

	if cfg.IsReplica {
		go func() {
			for {
				if err := srv.ConnectToLeader(cfg.ReplicaOfHost, cfg.ReplicaOfPort); err != nil {
					logger.Warn("replication link to %s:%d failed: %v", cfg.ReplicaOfHost, cfg.ReplicaOfPort, err)
				}
			}
		}()
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logger.Console("redisserver starting on port %d (log: %s)", cfg.Port, logger.FilePath())
	if err := srv.Listen(addr); err != nil {
		logger.Error("server exited: %v", err)
		os.Exit(1)
	}
}
