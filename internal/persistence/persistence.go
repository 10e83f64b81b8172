// Package persistence owns the AOF writer's lifecycle: startup recovery,
// periodic everysec sync and rewrite checks, and the mutating-command
// logging hook the dispatcher calls after every successful write.
package persistence

import (
	"fmt"
	"time"

	"github.com/akashmaji/goredis/internal/aof"
	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/rdb"
	"github.com/akashmaji/goredis/internal/recovery"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

// Manager wires the AOF writer and RDB handler into the store's lifecycle:
// recovery at boot, periodic sync/rewrite while running, and a final
// snapshot at shutdown.
type Manager struct {
	cfg   *config.Config
	store *store.Store
	aof   *aof.Writer
	rdb   *rdb.Handler
	log   zerolog.Logger
}

// New constructs a Manager. aofWriter is nil when cfg.AOFEnabled is false.
func New(cfg *config.Config, s *store.Store, aofWriter *aof.Writer, rdbHandler *rdb.Handler, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:   cfg,
		store: s,
		aof:   aofWriter,
		rdb:   rdbHandler,
		log:   log,
	}
}

// RecoverData loads whatever persisted state exists on disk into the
// store, preferring the AOF over the RDB snapshot. Replayed commands are
// never re-logged to the AOF.
func (m *Manager) RecoverData() (recovery.Result, error) {
	if !m.cfg.RecoveryOnStartup {
		return recovery.Result{Source: "none"}, nil
	}
	res, err := recovery.Recover(m.store, m.cfg.AOFPath(), m.cfg.RDBPath(), m.rdb, m.log)
	if err != nil {
		return res, fmt.Errorf("persistence: recovery: %w", err)
	}
	m.log.Info().Str("source", res.Source).Int("replayed", res.LinesReplayed).Msg("startup recovery complete")
	return res, nil
}

// LogWriteCommand appends a mutating command's record to the AOF, if AOF
// logging is enabled. Call only after the handler has already applied the
// effect to the store — log after effect, not before.
func (m *Manager) LogWriteCommand(cmd string, args ...string) {
	if m.aof == nil || !m.cfg.PersistenceEnabled || !aof.IsMutating(cmd) {
		return
	}
	if err := m.aof.Log(cmd, args...); err != nil {
		m.log.Error().Err(err).Str("cmd", cmd).Msg("failed to log write command to aof")
	}
}

// PeriodicTasks runs the everysec-policy sync tick and checks whether the
// AOF has grown enough to warrant a rewrite. Intended to be invoked from a
// background ticker roughly every 100ms.
func (m *Manager) PeriodicTasks() {
	if m.aof == nil || !m.cfg.PersistenceEnabled {
		return
	}
	if err := m.aof.Tick(); err != nil {
		m.log.Error().Err(err).Msg("aof tick failed")
	}
	if m.aof.NeedsRewrite() {
		entries := m.store.Snapshot()
		if err := m.aof.Rewrite(entries); err != nil {
			m.log.Error().Err(err).Msg("aof rewrite failed")
		}
	}
}

// Snapshot writes the current store contents to the RDB file, for
// shutdown or explicit SAVE-equivalent callers.
func (m *Manager) Snapshot() error {
	if m.rdb == nil {
		return nil
	}
	entries := m.store.Snapshot()
	if err := m.rdb.Save(m.cfg.RDBPath(), m.cfg.TempDir, entries); err != nil {
		return fmt.Errorf("persistence: snapshot: %w", err)
	}
	m.log.Info().Int("keys", len(entries)).Msg("rdb snapshot written")
	return nil
}

// Stop flushes the AOF writer and takes a final RDB snapshot. Call once,
// during shutdown.
func (m *Manager) Stop() error {
	var firstErr error
	if m.aof != nil {
		if err := m.aof.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persistence: closing aof: %w", err)
		}
	}
	if err := m.Snapshot(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stats reports persistence state for INFO.
type Stats struct {
	AOFEnabled     bool
	AOFFilename    string
	LastAOFSync    time.Time
	PendingWrites  int
}

// GetStats returns a point-in-time view of AOF persistence state.
func (m *Manager) GetStats() Stats {
	if m.aof == nil {
		return Stats{AOFEnabled: false}
	}
	return Stats{
		AOFEnabled:    m.cfg.PersistenceEnabled,
		AOFFilename:   m.cfg.AOFFilename,
		LastAOFSync:   m.aof.LastSync(),
		PendingWrites: m.aof.PendingWrites(),
	}
}
