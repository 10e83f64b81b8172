// Package recovery replays persisted state into a fresh store at boot:
// AOF preferred over RDB, both bypassing the AOF-logging mutator path so
// replay never re-appends what it just replayed.
package recovery

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akashmaji/goredis/internal/rdb"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

// Result reports what recovery did, for logging/INFO.
type Result struct {
	Source        string // "aof", "rdb", or "none"
	LinesReplayed int
	LinesSkipped  int
}

// Recover loads persisted state into s. If aofPath exists, it is replayed
// (preferred); else if rdbPath exists, it is loaded; else the store stays
// empty.
func Recover(s *store.Store, aofPath, rdbPath string, rdbHandler *rdb.Handler, log zerolog.Logger) (Result, error) {
	if fileExists(aofPath) {
		return replayAOF(s, aofPath, log)
	}
	if fileExists(rdbPath) {
		return loadRDB(s, rdbPath, rdbHandler, log)
	}
	return Result{Source: "none"}, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func replayAOF(s *store.Store, path string, log zerolog.Logger) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	res := Result{Source: "aof"}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !applyLine(s, line, log) {
			res.LinesSkipped++
			continue
		}
		res.LinesReplayed++
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("aof replay aborted on read error")
	}
	log.Info().Int("replayed", res.LinesReplayed).Int("skipped", res.LinesSkipped).Msg("aof replay complete")
	return res, nil
}

// applyLine parses one AOF line and applies its effect directly to the
// store. Splits on the first two spaces to get (timestamp, command,
// rest); rest is then split on whitespace for args. Tolerates a legacy
// no-timestamp variant: if the first field doesn't parse as an integer,
// it's treated as the command itself.
func applyLine(s *store.Store, line string, log zerolog.Logger) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var cmd string
	var args []string
	if _, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		if len(fields) < 2 {
			log.Warn().Str("line", line).Msg("malformed aof line: missing command")
			return false
		}
		cmd = strings.ToUpper(fields[1])
		args = fields[2:]
	} else {
		// Legacy format with no leading timestamp.
		cmd = strings.ToUpper(fields[0])
		args = fields[1:]
	}

	switch cmd {
	case "SET":
		if len(args) < 2 {
			log.Warn().Str("line", line).Msg("malformed SET in aof")
			return false
		}
		key := args[0]
		value := strings.Join(args[1:], " ")
		s.Set(key, value, time.Time{})
	case "DEL":
		if len(args) < 1 {
			log.Warn().Str("line", line).Msg("malformed DEL in aof")
			return false
		}
		s.Delete(args...)
	case "EXPIRE":
		if len(args) != 2 {
			log.Warn().Str("line", line).Msg("malformed EXPIRE in aof")
			return false
		}
		seconds, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Warn().Str("line", line).Msg("malformed EXPIRE seconds in aof")
			return false
		}
		s.Expire(args[0], seconds)
	case "EXPIREAT":
		if len(args) != 2 {
			log.Warn().Str("line", line).Msg("malformed EXPIREAT in aof")
			return false
		}
		ts, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Warn().Str("line", line).Msg("malformed EXPIREAT timestamp in aof")
			return false
		}
		s.ExpireAt(args[0], ts)
	case "PERSIST":
		if len(args) != 1 {
			log.Warn().Str("line", line).Msg("malformed PERSIST in aof")
			return false
		}
		s.Persist(args[0])
	case "RENAME":
		if len(args) != 2 {
			log.Warn().Str("line", line).Msg("malformed RENAME in aof")
			return false
		}
		s.Rename(args[0], args[1])
	case "FLUSHALL":
		s.Flush()
	default:
		log.Warn().Str("cmd", cmd).Msg("ignoring unrecognized command during aof replay")
		return false
	}
	return true
}

func loadRDB(s *store.Store, path string, h *rdb.Handler, log zerolog.Logger) (Result, error) {
	snap, err := h.Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("rdb load failed, starting with empty store")
		return Result{Source: "none"}, nil
	}
	s.Load(snap.Entries)
	log.Info().Int("keys", len(snap.Entries)).Msg("rdb load complete")
	return Result{Source: "rdb", LinesReplayed: len(snap.Entries)}, nil
}

// ValidateFiles tests AOF readiness by parsing the first 5 lines'
// timestamps as integers (valid iff all parse), and RDB readiness by
// matching the 5-byte magic.
func ValidateFiles(aofPath, rdbPath string) (aofValid, rdbValid bool) {
	aofValid = validateAOF(aofPath)
	rdbValid = rdb.ValidateFile(rdbPath)
	return
}

func validateAOF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	checked := 0
	for checked < 5 && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return false
		}
		if _, err := strconv.ParseInt(fields[0], 10, 64); err != nil {
			return false
		}
		checked++
	}
	return checked > 0
}
