// Package server implements the accept loop and per-connection framing.
// Instead of a single-threaded select loop, it runs one goroutine per
// accepted connection — the store and the AOF writer each carry their own
// mutex, so this preserves per-connection command ordering and
// per-command atomicity without emulating a single OS thread.
package server

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/dispatcher"
	"github.com/akashmaji/goredis/internal/persistence"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

// sweepInterval is how often the background goroutine runs the sampled
// expiration sweep and the persistence manager's periodic tasks.
const sweepInterval = 100 * time.Millisecond

// greeting is the one-shot banner every accepted connection receives
// before sending a single command — a deliberate, if surprising, quirk
// of the wire protocol kept for compatibility with existing clients.
const greeting = "+OK\r\n"

// Server owns the listener, the dispatcher, and the set of live
// connections.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	store      *store.Store
	persist    *persistence.Manager
	log        zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a Server. Call Serve to bind and start accepting.
func New(cfg *config.Config, d *dispatcher.Dispatcher, s *store.Store, p *persistence.Manager, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		store:      s,
		persist:    p,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve binds the listener and runs the accept loop until ctx is
// cancelled. It blocks until every connection goroutine has returned.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.Info().Str("addr", addr).Msg("listening")

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.runBackgroundTasks(sweepCtx)

	go func() {
		<-ctx.Done()
		s.log.Warn().Msg("shutdown signal received, closing listener")
		l.Close()
		s.closeAllConnections()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("listener closed, accept loop stopping")
			default:
				s.log.Error().Err(err).Msg("accept failed")
			}
			break
		}
		s.addConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
	s.wg.Wait()
	return nil
}

// runBackgroundTasks drives the sampled expiration sweep and the
// persistence manager's everysec sync/rewrite checks on a shared ticker.
func (s *Server) runBackgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.store.CleanupExpiredKeys()
			if s.persist != nil {
				s.persist.PeriodicTasks()
			}
		}
	}
}

func (s *Server) addConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// handleConnection is the per-connection goroutine body: one-shot
// greeting, then repeatedly frame on "\r\n", tokenize on whitespace,
// dispatch, and write the reply synchronously. Only the read and write
// calls block; a write failure disconnects just that client.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.removeConn(conn)
		s.dispatcher.DecrementClientCount()
	}()

	s.dispatcher.IncrementClientCount()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("accepted connection")

	if _, err := conn.Write([]byte(greeting)); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A trailing fragment with no terminator arrives only
			// alongside EOF/read-error — the connection is done, so
			// there's nothing left to buffer it for.
			break
		}

		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}

		reply := s.dispatcher.Execute(fields)
		if _, writeErr := conn.Write(reply.Bytes()); writeErr != nil {
			s.log.Debug().Err(writeErr).Msg("write failed, disconnecting client")
			break
		}
	}

	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection closed")
}
