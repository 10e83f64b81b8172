// Package aof implements the append-only file writer: one text-framed
// record per mutating command, three sync policies, and rewrite
// (compaction) from a live store snapshot via temp-file-then-atomic-rename.
package aof

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

// MutatingCommands is the set of commands recognized for AOF logging.
// Commands outside this set are never written.
var MutatingCommands = map[string]bool{
	"SET":      true,
	"DEL":      true,
	"EXPIRE":   true,
	"EXPIREAT": true,
	"PERSIST":  true,
	"FLUSHALL": true,
	"RENAME":   true,
}

// IsMutating reports whether cmd (already uppercased) is logged to the AOF.
func IsMutating(cmd string) bool { return MutatingCommands[cmd] }

// Writer appends command records to a text log and supports rewrite
// (compaction) to a minimal equivalent log.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer

	path    string
	tempDir string
	policy  config.SyncPolicy

	pending  int
	lastSync time.Time

	lastRewriteSize int64
	rewriteMinSize  int64
	rewritePercent  int

	log zerolog.Logger
}

// Open creates or opens the AOF file for append.
func Open(path, tempDir string, policy config.SyncPolicy, rewriteMinSize int64, rewritePercent int, log zerolog.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("aof: stat %s: %w", path, err)
	}
	return &Writer{
		file:            f,
		buf:             bufio.NewWriter(f),
		path:            path,
		tempDir:         tempDir,
		policy:          policy,
		lastSync:        time.Now(),
		lastRewriteSize: info.Size(),
		rewriteMinSize:  rewriteMinSize,
		rewritePercent:  rewritePercent,
		log:             log,
	}, nil
}

// Log appends one record: "<unix_seconds> <CMD> <arg1> <arg2> ...\n".
// Arguments are joined with single spaces — the format is whitespace-lossy
// by design: a SET value containing spaces is concatenated on replay,
// which matches the dispatcher's own SET semantics.
func (w *Writer) Log(cmd string, args ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := strconv.FormatInt(time.Now().Unix(), 10) + " " + strings.ToUpper(cmd)
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	line += "\n"

	if _, err := w.buf.WriteString(line); err != nil {
		return fmt.Errorf("aof: write: %w", err)
	}
	w.pending++

	if w.policy == config.SyncAlways {
		if err := w.flushAndSyncLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushAndSyncLocked() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("aof: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("aof: fsync: %w", err)
	}
	w.lastSync = time.Now()
	w.pending = 0
	return nil
}

// Tick implements the everysec policy: if at least a second has elapsed
// since the last sync and there is pending data, flush and fsync.
func (w *Writer) Tick() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.policy != config.SyncEverysec {
		return nil
	}
	if w.pending > 0 && time.Since(w.lastSync) >= time.Second {
		return w.flushAndSyncLocked()
	}
	return nil
}

// PendingWrites reports how many records have been buffered since the
// last fsync.
func (w *Writer) PendingWrites() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// LastSync reports the time of the last fsync.
func (w *Writer) LastSync() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSync
}

// Close flushes, syncs, and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.flushAndSyncLocked()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// NeedsRewrite reports whether the AOF has grown enough since the last
// rewrite to warrant compaction: current size must exceed minSize, and
// must have grown past growthPct over the baseline size recorded at Open
// or at the last rewrite: baseline * (1 + growth/100). A zero baseline
// only requires the minSize check.
func (w *Writer) NeedsRewrite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return false
	}
	size := info.Size()
	if size <= w.rewriteMinSize {
		return false
	}
	if w.lastRewriteSize == 0 {
		return true
	}
	threshold := float64(w.lastRewriteSize) * (1 + float64(w.rewritePercent)/100.0)
	return float64(size) > threshold
}

// Rewrite compacts the AOF to one SET (plus a trailing EXPIREAT, when the
// key carries one) record per live key, via a temp file in tempDir that is
// atomically renamed over the active log. On any failure the temp file is
// removed and the original log is left untouched.
func (w *Writer) Rewrite(entries []store.SnapshotEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tmp, err := os.CreateTemp(w.tempDir, fmt.Sprintf("temp-rewrite-aof-%d-*.aof", time.Now().UnixNano()))
	if err != nil {
		return fmt.Errorf("aof: rewrite: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	now := time.Now()
	for _, e := range entries {
		if !e.Expiry.IsZero() && !e.Expiry.After(now) {
			continue // expired keys are skipped
		}
		if _, err := fmt.Fprintf(bw, "%d SET %s %s\n", now.Unix(), e.Key, e.Value); err != nil {
			return fmt.Errorf("aof: rewrite: writing SET: %w", err)
		}
		if !e.Expiry.IsZero() {
			if _, err := fmt.Fprintf(bw, "%d EXPIREAT %s %d\n", now.Unix(), e.Key, e.Expiry.Unix()); err != nil {
				return fmt.Errorf("aof: rewrite: writing EXPIREAT: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("aof: rewrite: flushing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("aof: rewrite: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("aof: rewrite: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("aof: rewrite: renaming over %s: %w", w.path, err)
	}
	succeeded = true

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("aof: rewrite: reopening %s: %w", w.path, err)
	}
	w.file.Close()
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.pending = 0
	w.lastSync = time.Now()

	if info, err := f.Stat(); err == nil {
		w.lastRewriteSize = info.Size()
	}
	w.log.Info().Str("path", w.path).Int("keys", len(entries)).Msg("aof rewrite complete")
	return nil
}

// Path is the AOF file's path.
func (w *Writer) Path() string { return w.path }
