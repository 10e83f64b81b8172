package store_test

import (
	"testing"
	"time"

	"github.com/akashmaji/goredis/internal/store"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s := store.New()
	s.Set("foo", "bar", time.Time{})
	v, ok := s.Get("foo")
	require.True(t, ok)
	require.Equal(t, "bar", v)

	_, ok = s.Get("missing")
	require.False(t, ok)
}

func TestMemoryAccounting(t *testing.T) {
	s := store.New()
	s.Set("k", "v", time.Time{})
	require.EqualValues(t, int64(len("k")+len("v")+64), s.MemoryUsage())

	s.Set("k", "vv", time.Time{})
	require.EqualValues(t, int64(len("k")+len("vv")+64), s.MemoryUsage())

	s.Delete("k")
	require.EqualValues(t, 0, s.MemoryUsage())
}

func TestLazyExpiration(t *testing.T) {
	s := store.New()
	s.Set("k", "v", time.Now().Add(-time.Second))
	_, ok := s.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestExpireRequiresValidKey(t *testing.T) {
	s := store.New()
	require.False(t, s.Expire("missing", 10))

	s.Set("k", "v", time.Time{})
	require.True(t, s.Expire("k", 10))
	ttl := s.TTL("k")
	require.GreaterOrEqual(t, ttl, int64(9))
	require.LessOrEqual(t, ttl, int64(10))
}

func TestTTLStates(t *testing.T) {
	s := store.New()
	require.EqualValues(t, -2, s.TTL("missing"))

	s.Set("k", "v", time.Time{})
	require.EqualValues(t, -1, s.TTL("k"))

	s.Expire("k", 100)
	require.Greater(t, s.TTL("k"), int64(0))
}

func TestPTTLConsistentWithTTL(t *testing.T) {
	s := store.New()
	s.Set("k", "v", time.Time{})
	s.Expire("k", 5)

	ttl := s.TTL("k")
	pttl := s.PTTL("k")
	require.GreaterOrEqual(t, pttl, ttl*1000)
	require.Less(t, pttl, (ttl+1)*1000)
}

func TestPersist(t *testing.T) {
	s := store.New()
	require.False(t, s.Persist("missing"))

	s.Set("k", "v", time.Time{})
	require.False(t, s.Persist("k")) // no expiry to clear

	s.Expire("k", 10)
	require.True(t, s.Persist("k"))
	require.EqualValues(t, -1, s.TTL("k"))
}

func TestDeleteCountsOnlyExisting(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})
	require.Equal(t, 1, s.Delete("a", "b", "c"))
}

func TestExistsCountsDuplicates(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})
	require.Equal(t, 3, s.Exists("a", "a", "a"))
	require.Equal(t, 0, s.Exists("missing"))
}

func TestKeysGlob(t *testing.T) {
	s := store.New()
	s.Set("foo", "1", time.Time{})
	s.Set("foobar", "1", time.Time{})
	s.Set("baz", "1", time.Time{})

	all := s.Keys("*")
	require.Len(t, all, 3)

	matches := s.Keys("foo*")
	require.ElementsMatch(t, []string{"foo", "foobar"}, matches)
}

func TestFlush(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})
	s.Set("b", "2", time.Time{})
	s.Flush()
	require.Equal(t, 0, s.Len())
	require.EqualValues(t, 0, s.MemoryUsage())
}

func TestRename(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})
	require.True(t, s.Rename("a", "b"))
	_, ok := s.Get("a")
	require.False(t, ok)
	v, ok := s.Get("b")
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.False(t, s.Rename("missing", "c"))

	s.Set("d", "x", time.Time{})
	require.False(t, s.Rename("b", "d")) // destination exists
}

func TestCleanupExpiredKeysSamplesUpToTwenty(t *testing.T) {
	s := store.New()
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		s.Set(key+string(rune(i)), "v", time.Now().Add(-time.Second))
	}
	removed := s.CleanupExpiredKeys()
	require.LessOrEqual(t, removed, 20)
	require.Greater(t, removed, 0)
}

func TestTypeTag(t *testing.T) {
	s := store.New()
	require.Equal(t, store.TypeNone, s.Type("missing"))
	s.Set("k", "v", time.Time{})
	require.Equal(t, store.TypeString, s.Type("k"))
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	s := store.New()
	s.Set("a", "1", time.Time{})
	s.Set("b", "2", time.Time{})
	s.Expire("b", 100)

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	loaded := store.New()
	loaded.Load(snap)
	require.Equal(t, 2, loaded.Len())
	v, ok := loaded.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestLoadDropsAlreadyExpiredEntries(t *testing.T) {
	loaded := store.New()
	loaded.Load([]store.SnapshotEntry{
		{Key: "stale", Value: "v", Type: store.TypeString, Expiry: time.Now().Add(-time.Hour)},
		{Key: "fresh", Value: "v", Type: store.TypeString},
	})
	require.Equal(t, 1, loaded.Len())
	_, ok := loaded.Get("stale")
	require.False(t, ok)
}
