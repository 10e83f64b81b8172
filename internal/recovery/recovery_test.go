package recovery_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/akashmaji/goredis/internal/rdb"
	"github.com/akashmaji/goredis/internal/recovery"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeAOF(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "appendonly.aof")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRecoverEmptyWhenNeitherExists(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	res, err := recovery.Recover(s, filepath.Join(dir, "a.aof"), filepath.Join(dir, "d.rdb"), rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "none", res.Source)
	require.Equal(t, 0, s.Len())
}

func TestRecoverPrefersAOFOverRDB(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Unix()
	aofPath := writeAOF(t, dir, fmt.Sprintf("%d SET k fromaof", now))

	rdbPath := filepath.Join(dir, "dump.rdb")
	h := rdb.New(rdb.Options{})
	require.NoError(t, h.Save(rdbPath, dir, []store.SnapshotEntry{{Key: "k", Value: "fromrdb", Type: store.TypeString}}))

	s := store.New()
	res, err := recovery.Recover(s, aofPath, rdbPath, h, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "aof", res.Source)

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "fromaof", v)
}

func TestReplayAOFMultiWordSetAndDel(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Unix()
	aofPath := writeAOF(t, dir,
		fmt.Sprintf("%d SET greeting hello world", now),
		fmt.Sprintf("%d SET doomed yes", now),
		fmt.Sprintf("%d DEL doomed", now),
	)

	s := store.New()
	res, err := recovery.Recover(s, aofPath, "", rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 3, res.LinesReplayed)

	v, ok := s.Get("greeting")
	require.True(t, ok)
	require.Equal(t, "hello world", v)

	_, ok = s.Get("doomed")
	require.False(t, ok)
}

func TestReplaySkipsMalformedLinesAndContinues(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Unix()
	aofPath := writeAOF(t, dir,
		fmt.Sprintf("%d SET ok yes", now),
		"not a valid line at all",
		fmt.Sprintf("%d SET also fine", now),
	)

	s := store.New()
	res, err := recovery.Recover(s, aofPath, "", rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, res.LinesReplayed)
	require.Equal(t, 1, res.LinesSkipped)

	_, ok := s.Get("ok")
	require.True(t, ok)
}

func TestReplayEveryMutatingCommand(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Unix()
	aofPath := writeAOF(t, dir,
		fmt.Sprintf("%d SET a 1", now),
		fmt.Sprintf("%d SET b 2", now),
		fmt.Sprintf("%d EXPIRE a 100", now),
		fmt.Sprintf("%d PERSIST a", now),
		fmt.Sprintf("%d RENAME b c", now),
		fmt.Sprintf("%d EXPIREAT c %d", now, time.Now().Add(time.Hour).Unix()),
	)

	s := store.New()
	_, err := recovery.Recover(s, aofPath, "", rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)

	require.EqualValues(t, -1, s.TTL("a"))
	_, ok := s.Get("b")
	require.False(t, ok)
	v, ok := s.Get("c")
	require.True(t, ok)
	require.Equal(t, "2", v)
	require.Greater(t, s.TTL("c"), int64(0))
}

func TestReplayLegacyNoTimestampFormat(t *testing.T) {
	dir := t.TempDir()
	aofPath := writeAOF(t, dir, "SET legacy value")

	s := store.New()
	res, err := recovery.Recover(s, aofPath, "", rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, res.LinesReplayed)

	v, ok := s.Get("legacy")
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestFlushallReplay(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Unix()
	aofPath := writeAOF(t, dir,
		fmt.Sprintf("%d SET a 1", now),
		fmt.Sprintf("%d FLUSHALL", now),
	)

	s := store.New()
	_, err := recovery.Recover(s, aofPath, "", rdb.New(rdb.Options{}), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	aofPath := writeAOF(t, dir, fmt.Sprintf("%d SET a 1", time.Now().Unix()))

	rdbPath := filepath.Join(dir, "dump.rdb")
	h := rdb.New(rdb.Options{})
	require.NoError(t, h.Save(rdbPath, dir, nil))

	aofOK, rdbOK := recovery.ValidateFiles(aofPath, rdbPath)
	require.True(t, aofOK)
	require.True(t, rdbOK)

	badAOF := writeAOF(t, dir, "not-a-timestamp SET a 1")
	aofOK, _ = recovery.ValidateFiles(badAOF, rdbPath)
	require.False(t, aofOK)
}
