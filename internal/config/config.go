// Package config resolves the server's runtime configuration from CLI
// flags and an optional YAML overlay file, the way the teacher's
// migration tool layers a YAML config under its flag.FlagSet-based
// subcommands.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dayday/redisserver/internal/logger"
)

// Config holds every setting the server needs to boot.
type Config struct {
	Dir        string
	DBFilename string
	Port       int

	ReplicaOfHost string
	ReplicaOfPort int
	IsReplica     bool

	LogDir   string
	LogLevel logger.Level

	ReplicationRateLimit int64 // bytes/sec, 0 = unlimited
}

// ValidationError reports a single invalid field, mirroring the
// teacher's config.ValidationError shape.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// ApplyDefaults fills in zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.DBFilename == "" {
		c.DBFilename = "dump.rdb"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.LogDir == "" {
		c.LogDir = os.TempDir()
	}
}

// Validate checks that the resolved configuration is internally
// consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &ValidationError{Field: "port", Msg: "must be between 1 and 65535"}
	}
	if c.IsReplica {
		if c.ReplicaOfHost == "" {
			return &ValidationError{Field: "replicaof", Msg: "host must not be empty"}
		}
		if c.ReplicaOfPort <= 0 || c.ReplicaOfPort > 65535 {
			return &ValidationError{Field: "replicaof", Msg: "port must be between 1 and 65535"}
		}
	}
	if c.ReplicationRateLimit < 0 {
		return &ValidationError{Field: "replication-rate-limit", Msg: "must not be negative"}
	}
	return nil
}

// Load parses args with fs (a fresh flag.FlagSet), optionally overlays a
// YAML file named by --config, and returns the final Config. Flags
// always take precedence over the file: the overlay only fills in
// values the caller never set on the command line.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	var (
		dir        string
		dbFilename string
		port       int
		replicaOf  string
		logDir     string
		logLevel   string
		configPath string
		rateLimit  int64
	)

	fs.StringVar(&dir, "dir", "", "directory holding the RDB snapshot")
	fs.StringVar(&dbFilename, "dbfilename", "", "RDB snapshot filename")
	fs.IntVar(&port, "port", 0, "TCP port to listen on")
	fs.StringVar(&replicaOf, "replicaof", "", "\"<host> <port>\" of the leader to replicate from")
	fs.StringVar(&logDir, "logdir", "", "directory for the server log file")
	fs.StringVar(&logLevel, "loglevel", "", "DEBUG|INFO|WARN|ERROR")
	fs.StringVar(&configPath, "config", "", "optional YAML file overlaying dir/dbfilename/port/replicaof")
	fs.Int64Var(&rateLimit, "replication-rate-limit", 0, "throttle propagation, bytes/sec shared by all followers (0 = unlimited)")

	known := map[string]bool{}
	fs.VisitAll(func(fl *flag.Flag) { known[fl.Name] = true })
	if err := fs.Parse(dropUnknownFlags(args, known)); err != nil {
		return nil, err
	}

	overlay := map[string]interface{}{}
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", configPath, err)
		}
		defer f.Close()
		overlay, err = parseYAML(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	cfg := &Config{}
	cfg.Dir = stringFlag(set, overlay, "dir", dir)
	cfg.DBFilename = stringFlag(set, overlay, "dbfilename", dbFilename)
	cfg.Port = intFlag(set, overlay, "port", port)
	cfg.LogDir = stringFlag(set, overlay, "logdir", logDir)
	resolvedLevel := stringFlag(set, overlay, "loglevel", logLevel)
	cfg.LogLevel = logger.ParseLevel(resolvedLevel)
	cfg.ReplicationRateLimit = int64Flag(set, overlay, "replication-rate-limit", rateLimit)

	resolvedReplicaOf := stringFlag(set, overlay, "replicaof", replicaOf)
	if resolvedReplicaOf != "" {
		host, p, err := splitHostPort(resolvedReplicaOf)
		if err != nil {
			return nil, fmt.Errorf("config: replicaof: %w", err)
		}
		cfg.IsReplica = true
		cfg.ReplicaOfHost = host
		cfg.ReplicaOfPort = p
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dropUnknownFlags removes any "-name"/"--name" token not in known,
// leaving everything else untouched, so an unrecognized flag is
// ignored rather than aborting startup. This mirrors the original
// server's argument scanner, which advances past an unrecognized
// token instead of treating it as an error. A non-flag token right
// after a dropped "-name" (without "=value") is taken as its value and
// dropped too, so flag parsing does not stop at it.
func dropUnknownFlags(args []string, known map[string]bool) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}
		name := strings.TrimLeft(arg, "-")
		hasValue := false
		if j := strings.IndexByte(name, '='); j >= 0 {
			name = name[:j]
			hasValue = true
		}
		if known[name] {
			out = append(out, arg)
			continue
		}
		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return out
}

func stringFlag(set map[string]bool, overlay map[string]interface{}, name, flagVal string) string {
	if set[name] {
		return flagVal
	}
	if v, ok := overlay[overlayKey(name)]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return flagVal
}

func intFlag(set map[string]bool, overlay map[string]interface{}, name string, flagVal int) int {
	if set[name] {
		return flagVal
	}
	if v, ok := overlay[overlayKey(name)]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return flagVal
}

func int64Flag(set map[string]bool, overlay map[string]interface{}, name string, flagVal int64) int64 {
	if set[name] {
		return flagVal
	}
	if v, ok := overlay[overlayKey(name)]; ok {
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	return flagVal
}

// overlayKey maps a flag name to its camelCase YAML key, e.g.
// "replication-rate-limit" -> "replicationRateLimitBytesPerSec".
func overlayKey(flagName string) string {
	switch flagName {
	case "dir":
		return "dir"
	case "dbfilename":
		return "dbFilename"
	case "port":
		return "port"
	case "replicaof":
		return "replicaof"
	case "logdir":
		return "logDir"
	case "loglevel":
		return "logLevel"
	case "replication-rate-limit":
		return "replicationRateLimitBytesPerSec"
	default:
		return flagName
	}
}

func splitHostPort(s string) (string, int, error) {
	var host string
	var port int
	n, err := fmt.Sscanf(s, "%s %d", &host, &port)
	if err != nil || n != 2 {
		return "", 0, fmt.Errorf("expected \"<host> <port>\", got %q", s)
	}
	return host, port, nil
}
