package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akashmaji/goredis/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, config.SyncEverysec, cfg.AOFSyncPolicy)
	require.NotEmpty(t, cfg.AOFFilename)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	require.Equal(t, 6379, cfg.Port)
}

func TestLoadParsesDirectives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.conf")
	contents := "# comment\nport 7000\ndir " + dir + "\nappendonly yes\nappendfsync always\nmax_memory_usage 1048576\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, dir, cfg.DataDir)
	require.True(t, cfg.AOFEnabled)
	require.Equal(t, config.SyncAlways, cfg.AOFSyncPolicy)
	require.EqualValues(t, 1048576, cfg.MaxMemoryUsage)
}

func TestInvalidSyncPolicyIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.conf")
	require.NoError(t, os.WriteFile(path, []byte("appendfsync bogus\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestEmptyAOFFilenameIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.conf")
	require.NoError(t, os.WriteFile(path, []byte("appendonly yes\nappendfilename \n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}
