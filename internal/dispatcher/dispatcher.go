// Package dispatcher implements the case-insensitive command table: arity
// validation, per-command handlers returning pre-encoded RESP replies, and
// the AOF logging hook fired after a successful mutating handler.
package dispatcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/akashmaji/goredis/internal/aof"
	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/persistence"
	"github.com/akashmaji/goredis/internal/resp"
	"github.com/akashmaji/goredis/internal/stats"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

// handlerFunc executes one command against the store. args excludes the
// command name itself.
type handlerFunc func(d *Dispatcher, args []string) resp.Reply

// arity describes how many arguments (excluding the command name) a
// command accepts. min == max means exact arity; max == -1 means
// unbounded.
type arity struct {
	min, max int
}

func (a arity) matches(n int) bool {
	if n < a.min {
		return false
	}
	if a.max == -1 {
		return true
	}
	return n <= a.max
}

type commandEntry struct {
	name    string
	ar      arity
	handler handlerFunc
	mutates bool
}

// Dispatcher owns the command table, the store, and the persistence
// manager mutations are logged through.
type Dispatcher struct {
	store       *store.Store
	persistence *persistence.Manager
	stats       *stats.Reporter
	ttlMode     config.TTLReplyMode
	log         zerolog.Logger

	commandCount int64
	clientCount  int64

	table map[string]commandEntry
}

// New constructs a Dispatcher wired to s and p. p may be nil when
// persistence is disabled entirely — LogWriteCommand becomes a no-op.
func New(s *store.Store, p *persistence.Manager, reporter *stats.Reporter, ttlMode config.TTLReplyMode, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		store:       s,
		persistence: p,
		stats:       reporter,
		ttlMode:     ttlMode,
		log:         log,
	}
	d.table = d.buildTable()
	return d
}

func (d *Dispatcher) buildTable() map[string]commandEntry {
	entries := []commandEntry{
		{"PING", arity{0, -1}, handlePing, false},
		{"ECHO", arity{0, -1}, handleEcho, false},
		{"SET", arity{2, -1}, handleSet, true},
		{"GET", arity{1, 1}, handleGet, false},
		{"DEL", arity{1, -1}, handleDel, true},
		{"EXISTS", arity{1, -1}, handleExists, false},
		{"KEYS", arity{0, 1}, handleKeys, false},
		{"FLUSHALL", arity{0, 0}, handleFlushall, true},
		{"EXPIRE", arity{2, 2}, handleExpire, true},
		{"EXPIREAT", arity{2, 2}, handleExpireAt, true},
		{"TTL", arity{1, 1}, handleTTL, false},
		{"PTTL", arity{1, 1}, handlePTTL, false},
		{"PERSIST", arity{1, 1}, handlePersist, true},
		{"TYPE", arity{1, 1}, handleType, false},
		{"INFO", arity{0, -1}, handleInfo, false},
		{"RENAME", arity{2, 2}, handleRename, true},
		{"DBSIZE", arity{0, 0}, handleDBSize, false},
		{"COMMAND", arity{0, -1}, handleCommand, false},
		{"COMMANDS", arity{0, 1}, handleCommands, false},
	}
	table := make(map[string]commandEntry, len(entries))
	for _, e := range entries {
		table[e.name] = e
	}
	return table
}

// IncrementClientCount and DecrementClientCount let the server track
// connected-client count for the INFO report, without the dispatcher
// needing to know anything about net.Conn.
func (d *Dispatcher) IncrementClientCount() { atomic.AddInt64(&d.clientCount, 1) }
func (d *Dispatcher) DecrementClientCount() { atomic.AddInt64(&d.clientCount, -1) }

// Execute runs one already-tokenized command line. fields[0] is the
// command name (case-insensitive); fields[1:] are its arguments.
func (d *Dispatcher) Execute(fields []string) resp.Reply {
	if len(fields) == 0 {
		return resp.NewErrorf("empty command")
	}
	atomic.AddInt64(&d.commandCount, 1)

	name := strings.ToUpper(fields[0])
	args := fields[1:]

	entry, ok := d.table[name]
	if !ok {
		return resp.NewErrorf("unknown command '%s'", fields[0])
	}
	if !entry.ar.matches(len(args)) {
		return resp.NewErrorf("wrong number of arguments for '%s' command", strings.ToLower(name))
	}

	reply := entry.handler(d, args)

	if entry.mutates {
		d.logWrite(name, args, reply)
	}
	return reply
}

// logWrite forwards a successfully-applied mutating command to the
// persistence manager. Error replies never reach the AOF. EXPIRE and
// EXPIREAT additionally suppress logging when they returned 0: that
// integer means no expiry was set, either because the dispatcher
// short-circuited before calling store.Expire/ExpireAt (seconds <= 0, or
// timestamp already past) or because the key was absent. The recovery
// replay path has no short-circuit guard — logging the no-op line would
// let replay apply an expiry the live run never actually set.
func (d *Dispatcher) logWrite(name string, args []string, reply resp.Reply) {
	if d.persistence == nil {
		return
	}
	if _, isErr := reply.(resp.Error); isErr {
		return
	}
	if name == "EXPIRE" || name == "EXPIREAT" {
		if n, ok := reply.(resp.Integer); ok && n == 0 {
			return
		}
	}
	d.persistence.LogWriteCommand(name, args...)
}

func handlePing(d *Dispatcher, args []string) resp.Reply {
	return resp.Pong
}

func handleEcho(d *Dispatcher, args []string) resp.Reply {
	return resp.SimpleString(strings.Join(args, " "))
}

func handleSet(d *Dispatcher, args []string) resp.Reply {
	key := args[0]
	value := strings.Join(args[1:], " ")
	d.store.Set(key, value, time.Time{})
	return resp.OK
}

func handleGet(d *Dispatcher, args []string) resp.Reply {
	v, ok := d.store.Get(args[0])
	if !ok {
		return resp.Null
	}
	return resp.Bulk(v)
}

func handleDel(d *Dispatcher, args []string) resp.Reply {
	return resp.Integer(d.store.Delete(args...))
}

func handleExists(d *Dispatcher, args []string) resp.Reply {
	return resp.Integer(d.store.Exists(args...))
}

func handleKeys(d *Dispatcher, args []string) resp.Reply {
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}
	return resp.BulkArray(d.store.Keys(pattern)...)
}

func handleFlushall(d *Dispatcher, args []string) resp.Reply {
	d.store.Flush()
	return resp.OK
}

func handleExpire(d *Dispatcher, args []string) resp.Reply {
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return resp.NewErrorf("invalid expire time")
	}
	if seconds <= 0 {
		return resp.Integer(0)
	}
	if d.store.Expire(args[0], seconds) {
		return resp.Integer(1)
	}
	return resp.Integer(0)
}

func handleExpireAt(d *Dispatcher, args []string) resp.Reply {
	ts, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return resp.NewErrorf("invalid expire time")
	}
	if ts <= time.Now().Unix() {
		return resp.Integer(0)
	}
	if d.store.ExpireAt(args[0], ts) {
		return resp.Integer(1)
	}
	return resp.Integer(0)
}

// ttlReply renders a TTL/PTTL result according to the configured mode:
// "human" returns simple-string messages for the no-expiry (-1) and
// already-expired (-2) cases; "integer" returns conventional :-1/:-2
// replies.
func ttlReply(mode config.TTLReplyMode, key string, value int64) resp.Reply {
	if mode == config.TTLReplyInteger {
		return resp.Integer(value)
	}
	switch value {
	case -1:
		return resp.SimpleString(fmt.Sprintf("No expiration set for key: %s", key))
	case -2:
		return resp.SimpleString(fmt.Sprintf("Key has expired: %s", key))
	default:
		return resp.Integer(value)
	}
}

func handleTTL(d *Dispatcher, args []string) resp.Reply {
	return ttlReply(d.ttlMode, args[0], d.store.TTL(args[0]))
}

func handlePTTL(d *Dispatcher, args []string) resp.Reply {
	return ttlReply(d.ttlMode, args[0], d.store.PTTL(args[0]))
}

func handlePersist(d *Dispatcher, args []string) resp.Reply {
	if d.store.Persist(args[0]) {
		return resp.Integer(1)
	}
	return resp.Integer(0)
}

func handleType(d *Dispatcher, args []string) resp.Reply {
	return resp.SimpleString(string(d.store.Type(args[0])))
}

func handleInfo(d *Dispatcher, args []string) resp.Reply {
	commandCount := atomic.LoadInt64(&d.commandCount)
	clientCount := int(atomic.LoadInt64(&d.clientCount))
	report := d.stats.Build(d.store, d.persistence, commandCount, clientCount)
	return resp.Bulk(report)
}

func handleRename(d *Dispatcher, args []string) resp.Reply {
	if d.store.Rename(args[0], args[1]) {
		return resp.OK
	}
	return resp.NewErrorf("no such key")
}

func handleDBSize(d *Dispatcher, args []string) resp.Reply {
	return resp.Integer(d.store.Len())
}

func handleCommand(d *Dispatcher, args []string) resp.Reply {
	return resp.OK
}

func handleCommands(d *Dispatcher, args []string) resp.Reply {
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		if pattern == "*" {
			names = append(names, name)
			continue
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return resp.BulkArray(names...)
}

// MutatingCommand reports whether name (already uppercased) logs to the
// AOF, delegating to the canonical list the aof package owns so the two
// stay in sync without duplicating the set here.
func MutatingCommand(name string) bool { return aof.IsMutating(name) }
