// Package config reads a line-oriented configuration file format (one
// directive per line, "#" comments, whitespace-separated arguments) and
// validates the resulting settings.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SyncPolicy is the AOF fsync strategy.
type SyncPolicy string

const (
	SyncAlways   SyncPolicy = "always"
	SyncEverysec SyncPolicy = "everysec"
	SyncNo       SyncPolicy = "no"
)

// TTLReplyMode selects how TTL/PTTL render the no-expiry/already-expired
// cases.
type TTLReplyMode string

const (
	TTLReplyHuman   TTLReplyMode = "human"
	TTLReplyInteger TTLReplyMode = "integer"
)

// Error is a fatal configuration problem raised before bind.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "config: " + e.Msg }

// Config holds every setting the server accepts.
type Config struct {
	Bind string
	Port int

	DataDir string
	TempDir string

	AOFEnabled          bool
	AOFFilename         string
	AOFSyncPolicy       SyncPolicy
	AOFRewritePercent   int
	AOFRewriteMinSize   int64
	PersistenceEnabled  bool
	RecoveryOnStartup   bool
	RDBFilename         string
	MaxMemoryUsage      int64
	TTLReplyMode        TTLReplyMode

	path string
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Bind:               "localhost",
		Port:                6379,
		DataDir:             "./data",
		TempDir:             "./data/temp",
		AOFEnabled:          true,
		AOFFilename:         "appendonly.aof",
		AOFSyncPolicy:       SyncEverysec,
		AOFRewritePercent:   100,
		AOFRewriteMinSize:   1 << 20,
		PersistenceEnabled:  true,
		RecoveryOnStartup:   true,
		RDBFilename:         "dump.rdb",
		MaxMemoryUsage:      0,
		TTLReplyMode:        TTLReplyHuman,
	}
}

// Load reads a config file if present (a missing file is not an error —
// Default() is returned as-is), then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, cfg.validate()
	}
	defer f.Close()
	cfg.path = path

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := parseLine(scanner.Text(), cfg); err != nil {
			return nil, fmt.Errorf("config: %s line %d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLine(line string, cfg *Config) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	fields := strings.Fields(line)
	directive := strings.ToLower(fields[0])
	args := fields[1:]

	switch directive {
	case "bind":
		cfg.Bind = arg(args, 0, cfg.Bind)
	case "port":
		n, err := strconv.Atoi(arg(args, 0, ""))
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		cfg.Port = n
	case "dir", "data_dir":
		cfg.DataDir = arg(args, 0, cfg.DataDir)
	case "temp_dir":
		cfg.TempDir = arg(args, 0, cfg.TempDir)
	case "appendonly", "aof_enabled":
		cfg.AOFEnabled = strings.EqualFold(arg(args, 0, ""), "yes") || strings.EqualFold(arg(args, 0, ""), "true")
	case "appendfilename", "aof_filename":
		cfg.AOFFilename = strings.Join(args, " ")
	case "appendfsync", "aof_sync_policy":
		cfg.AOFSyncPolicy = SyncPolicy(strings.ToLower(arg(args, 0, string(cfg.AOFSyncPolicy))))
	case "aof_rewrite_percentage":
		n, err := strconv.Atoi(arg(args, 0, ""))
		if err != nil {
			return fmt.Errorf("invalid aof_rewrite_percentage: %w", err)
		}
		cfg.AOFRewritePercent = n
	case "aof_rewrite_min_size":
		n, err := strconv.ParseInt(arg(args, 0, ""), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid aof_rewrite_min_size: %w", err)
		}
		cfg.AOFRewriteMinSize = n
	case "persistence_enabled":
		cfg.PersistenceEnabled = strings.EqualFold(arg(args, 0, ""), "yes") || strings.EqualFold(arg(args, 0, ""), "true")
	case "recovery_on_startup":
		cfg.RecoveryOnStartup = strings.EqualFold(arg(args, 0, ""), "yes") || strings.EqualFold(arg(args, 0, ""), "true")
	case "dbfilename", "rdb_filename":
		cfg.RDBFilename = arg(args, 0, cfg.RDBFilename)
	case "max_memory_usage", "maxmemory":
		n, err := strconv.ParseInt(arg(args, 0, ""), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid max_memory_usage: %w", err)
		}
		cfg.MaxMemoryUsage = n
	case "ttl_reply_mode":
		cfg.TTLReplyMode = TTLReplyMode(strings.ToLower(arg(args, 0, string(cfg.TTLReplyMode))))
	default:
		// Unknown directives are ignored — config files evolve faster
		// than code.
	}
	return nil
}

func arg(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

// validate enforces the fatal cases: an invalid sync policy, an empty AOF
// filename, or an invalid ttl_reply_mode.
func (c *Config) validate() error {
	switch c.AOFSyncPolicy {
	case SyncAlways, SyncEverysec, SyncNo:
	default:
		return &Error{Msg: fmt.Sprintf("invalid aof_sync_policy %q", c.AOFSyncPolicy)}
	}
	if strings.TrimSpace(c.AOFFilename) == "" {
		return &Error{Msg: "aof_filename must not be empty"}
	}
	switch c.TTLReplyMode {
	case TTLReplyHuman, TTLReplyInteger:
	default:
		return &Error{Msg: fmt.Sprintf("invalid ttl_reply_mode %q", c.TTLReplyMode)}
	}
	return nil
}

// EnsureDirs creates the data and temp directories if they don't exist.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", c.DataDir, err)
	}
	if err := os.MkdirAll(c.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir %s: %w", c.TempDir, err)
	}
	return nil
}

// AOFPath is the full path to the AOF file.
func (c *Config) AOFPath() string { return filepath.Join(c.DataDir, c.AOFFilename) }

// RDBPath is the full path to the RDB snapshot file.
func (c *Config) RDBPath() string { return filepath.Join(c.DataDir, c.RDBFilename) }

// Path returns the config file path Load() was given, empty if defaults
// were used.
func (c *Config) Path() string { return c.path }
