package stats_test

import (
	"testing"
	"time"

	"github.com/akashmaji/goredis/internal/aof"
	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/persistence"
	"github.com/akashmaji/goredis/internal/rdb"
	"github.com/akashmaji/goredis/internal/stats"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildIncludesCoreSections(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})

	r := stats.New(6379)
	report := r.Build(s, nil, 42, 3)

	require.Contains(t, report, "# Server")
	require.Contains(t, report, "tcp_port:6379")
	require.Contains(t, report, "# Clients")
	require.Contains(t, report, "connected_clients:3")
	require.Contains(t, report, "# Memory")
	require.Contains(t, report, "# Persistence")
	require.Contains(t, report, "aof_enabled:0")
	require.Contains(t, report, "# Keyspace")
	require.Contains(t, report, "keys=1")
	require.Contains(t, report, "total_commands_processed:42")
}

func TestBuildReflectsPersistenceManager(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.TempDir = dir

	s := store.New()
	w, err := aof.Open(cfg.AOFPath(), cfg.TempDir, cfg.AOFSyncPolicy, cfg.AOFRewriteMinSize, cfg.AOFRewritePercent, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()
	p := persistence.New(cfg, s, w, rdb.New(rdb.Options{}), zerolog.Nop())

	r := stats.New(cfg.Port)
	report := r.Build(s, p, 1, 1)

	require.Contains(t, report, "aof_enabled:1")
	require.Contains(t, report, "aof_filename:"+cfg.AOFFilename)
}
