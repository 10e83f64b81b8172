// Package stats builds the human-readable INFO report, laid out in
// sections (Server/Clients/Memory/Persistence/Keyspace/Stats) wired to
// this repo's own Store and persistence.Manager types.
package stats

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/akashmaji/goredis/internal/persistence"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/shirou/gopsutil/v4/mem"
)

// Reporter builds INFO output. It holds only the bits that aren't already
// reachable through Store/Manager: start time and bind port. Connected-
// client count and the command counter are supplied by the caller, since
// the dispatcher and server own those counters.
type Reporter struct {
	StartTime time.Time
	Port      int
}

func New(port int) *Reporter {
	return &Reporter{StartTime: time.Now(), Port: port}
}

// Build assembles the full INFO report text. commandCount and
// clientCount are supplied by the caller (the dispatcher and the server
// respectively own those counters).
func (r *Reporter) Build(s *store.Store, p *persistence.Manager, commandCount int64, clientCount int) string {
	server := section("Server", [][2]string{
		{"redis_version", "0.1-goredis"},
		{"process_id", strconv.Itoa(os.Getpid())},
		{"tcp_port", strconv.Itoa(r.Port)},
		{"server_time", fmt.Sprint(time.Now().Unix())},
		{"uptime_in_seconds", fmt.Sprint(int64(time.Since(r.StartTime).Seconds()))},
	})

	clients := section("Clients", [][2]string{
		{"connected_clients", fmt.Sprint(clientCount)},
	})

	var hostTotal uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		hostTotal = vm.Total
	}
	memory := section("Memory", [][2]string{
		{"used_memory", fmt.Sprintf("%d", s.MemoryUsage())},
		{"used_memory_human", formatBytes(s.MemoryUsage())},
		{"total_system_memory", fmt.Sprintf("%d", hostTotal)},
	})

	var persist [][2]string
	if p != nil {
		ps := p.GetStats()
		aofEnabled := 0
		if ps.AOFEnabled {
			aofEnabled = 1
		}
		persist = [][2]string{
			{"aof_enabled", strconv.Itoa(aofEnabled)},
			{"aof_filename", ps.AOFFilename},
			{"aof_last_sync_time", fmt.Sprint(ps.LastAOFSync.Unix())},
			{"aof_pending_writes", fmt.Sprint(ps.PendingWrites)},
		}
	} else {
		persist = [][2]string{{"aof_enabled", "0"}}
	}
	persistSection := section("Persistence", persist)

	keyspace := section("Keyspace", [][2]string{
		{"db0", fmt.Sprintf("keys=%d", s.Len())},
	})

	statsSection := section("Stats", [][2]string{
		{"total_commands_processed", fmt.Sprint(commandCount)},
	})

	return server + clients + memory + persistSection + keyspace + statsSection
}

func section(header string, pairs [][2]string) string {
	out := fmt.Sprintf("# %s\n", header)
	for _, kv := range pairs {
		out += fmt.Sprintf("%s:%s\n", kv[0], kv[1])
	}
	return out + "\n"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
