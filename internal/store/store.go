// Package store implements the in-memory key-value store: lazy and
// sampled expiration, incremental memory accounting, and the scalar-string
// mutators/queries the command dispatcher drives.
package store

import (
	"path/filepath"
	"sync"
	"time"
)

// Type is the type tag carried by every Entry. Only String is ever
// produced by the implemented command set; the others exist so TYPE can
// answer for a future, not-yet-implemented, type system.
type Type string

const (
	TypeNone   Type = "none"
	TypeString Type = "string"
	TypeList   Type = "list"
	TypeSet    Type = "set"
	TypeHash   Type = "hash"
)

// entryOverhead is the fixed per-entry bookkeeping cost, added to the
// UTF-8 byte length of the key and value when accounting memory.
const entryOverhead = 64

// entry is the DataStore value: an opaque string, its type tag, and an
// optional absolute expiry instant.
type entry struct {
	value  string
	typ    Type
	expiry time.Time // zero value means "no expiry"
}

func (e *entry) hasExpiry() bool { return !e.expiry.IsZero() }

func (e *entry) expired(now time.Time) bool {
	return e.hasExpiry() && !e.expiry.After(now)
}

func cost(key, value string) int64 {
	return int64(len(key)) + int64(len(value)) + entryOverhead
}

// Store is the mapping from key to Entry, with incremental memory
// accounting maintained at every mutator.
type Store struct {
	mu     sync.RWMutex
	data   map[string]*entry
	memory int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

// Set overwrites key with value, clearing any prior expiry unless expiry
// is provided. Passing the zero time.Time means "no expiry".
func (s *Store) Set(key, value string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, expiry)
}

func (s *Store) setLocked(key, value string, expiry time.Time) {
	if old, ok := s.data[key]; ok {
		s.memory -= cost(key, old.value)
	}
	s.data[key] = &entry{value: value, typ: TypeString, expiry: expiry}
	s.memory += cost(key, value)
}

// removeExpiredLocked deletes key if its entry has expired as of now, so
// every caller holding the write lock sees an expired key as absent.
// Returns true if the key was removed.
func (s *Store) removeExpiredLocked(key string, now time.Time) bool {
	e, ok := s.data[key]
	if !ok || !e.expired(now) {
		return false
	}
	s.memory -= cost(key, e.value)
	delete(s.data, key)
	return true
}

// lookupLocked returns the live entry for key, lazily expiring it first.
// Must be called with the write lock held, since expiry may mutate state.
func (s *Store) lookupLocked(key string, now time.Time) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		s.memory -= cost(key, e.value)
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

// Get returns the value for key, or ("", false) if absent or expired.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return "", false
	}
	return e.value, true
}

// Delete removes the given keys and returns the count actually removed.
func (s *Store) Delete(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, key := range keys {
		if _, ok := s.lookupLocked(key, now); ok {
			e := s.data[key]
			s.memory -= cost(key, e.value)
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Exists returns the number of currently-valid keys among the arguments;
// duplicates count separately.
func (s *Store) Exists(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for _, key := range keys {
		if _, ok := s.lookupLocked(key, now); ok {
			count++
		}
	}
	return count
}

// Keys returns the live keys matching the glob pattern. "*" skips
// filtering entirely.
func (s *Store) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	// A pass to lazily expire everything we're about to enumerate keeps
	// the result consistent with a snapshot taken at `now`.
	for key, e := range s.data {
		if e.expired(now) {
			s.memory -= cost(key, e.value)
			delete(s.data, key)
		}
	}

	keys := make([]string, 0, len(s.data))
	if pattern == "*" {
		for key := range s.data {
			keys = append(keys, key)
		}
		return keys
	}
	for key := range s.data {
		if matched, _ := filepath.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys
}

// Flush clears every entry and resets memory usage to zero.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*entry)
	s.memory = 0
}

// Expire sets key's expiry to now+seconds if key is currently valid.
// Returns false (with no side effect) if the key is absent or expired.
// Callers are responsible for rejecting seconds <= 0 before calling this.
func (s *Store) Expire(key string, seconds int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e, ok := s.lookupLocked(key, now)
	if !ok {
		return false
	}
	e.expiry = now.Add(time.Duration(seconds) * time.Second)
	return true
}

// ExpireAt sets key's expiry to the given absolute unix timestamp if key
// is currently valid.
func (s *Store) ExpireAt(key string, unixTS int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return false
	}
	e.expiry = time.Unix(unixTS, 0)
	return true
}

// TTL returns the remaining whole seconds until expiry: -2 if absent or
// expired, -1 if no expiry is set, otherwise floor(remaining seconds).
func (s *Store) TTL(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return -2
	}
	if !e.hasExpiry() {
		return -1
	}
	remaining := time.Until(e.expiry)
	return int64(remaining / time.Second)
}

// PTTL is TTL with millisecond resolution.
func (s *Store) PTTL(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return -2
	}
	if !e.hasExpiry() {
		return -1
	}
	remaining := time.Until(e.expiry)
	return int64(remaining / time.Millisecond)
}

// Persist clears the expiry on a valid key. Returns false if the key is
// absent, expired, or already has no expiry.
func (s *Store) Persist(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok || !e.hasExpiry() {
		return false
	}
	e.expiry = time.Time{}
	return true
}

// Rename moves key's value and expiry to newKey. Returns false if key is
// absent/expired, or if newKey already exists.
func (s *Store) Rename(key, newKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e, ok := s.lookupLocked(key, now)
	if !ok {
		return false
	}
	if _, exists := s.lookupLocked(newKey, now); exists {
		return false
	}
	s.memory -= cost(key, e.value)
	delete(s.data, key)
	s.data[newKey] = e
	s.memory += cost(newKey, e.value)
	return true
}

// Type returns the type tag for key, or TypeNone if absent/expired.
func (s *Store) Type(key string) Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return TypeNone
	}
	return e.typ
}

// MemoryUsage returns the current accounted byte total.
func (s *Store) MemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memory
}

// Len returns the number of entries currently in the map, including ones
// that have expired but haven't yet been swept (matches DBSIZE's O(1)
// map-length semantics minus lazy cleanup, consistent with real servers).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// sweepSampleSize is the maximum number of keys examined per
// CleanupExpiredKeys pass.
const sweepSampleSize = 20

// CleanupExpiredKeys samples up to min(20, N) keys uniformly at random
// without replacement and removes those that have expired. Returns the
// number of keys removed. Go's randomized map iteration order gives the
// sampling its randomness.
func (s *Store) CleanupExpiredKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.data)
	if n == 0 {
		return 0
	}
	sample := sweepSampleSize
	if n < sample {
		sample = n
	}

	now := time.Now()
	removed := 0
	examined := 0
	for key, e := range s.data {
		if examined >= sample {
			break
		}
		examined++
		if e.expired(now) {
			s.memory -= cost(key, e.value)
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns a point-in-time copy of every live key's value, type,
// and expiry, for RDB serialization. Expired keys are excluded.
type SnapshotEntry struct {
	Key    string
	Value  string
	Type   Type
	Expiry time.Time // zero means no expiry
}

func (s *Store) Snapshot() []SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]SnapshotEntry, 0, len(s.data))
	for key, e := range s.data {
		if e.expired(now) {
			s.memory -= cost(key, e.value)
			delete(s.data, key)
			continue
		}
		out = append(out, SnapshotEntry{Key: key, Value: e.value, Type: e.typ, Expiry: e.expiry})
	}
	return out
}

// Load installs entries directly into the store, bypassing the AOF-logging
// mutator path (used by recovery). Entries whose expiry has already passed
// are dropped.
func (s *Store) Load(entries []SnapshotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, se := range entries {
		if !se.Expiry.IsZero() && !se.Expiry.After(now) {
			continue
		}
		if old, ok := s.data[se.Key]; ok {
			s.memory -= cost(se.Key, old.value)
		}
		s.data[se.Key] = &entry{value: se.Value, typ: se.Type, expiry: se.Expiry}
		s.memory += cost(se.Key, se.Value)
	}
}
