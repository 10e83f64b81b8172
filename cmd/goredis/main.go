// Command goredis starts the server: load config, recover persisted
// state, bind the listener, and run until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akashmaji/goredis/internal/aof"
	"github.com/akashmaji/goredis/internal/config"
	"github.com/akashmaji/goredis/internal/dispatcher"
	"github.com/akashmaji/goredis/internal/persistence"
	"github.com/akashmaji/goredis/internal/rdb"
	"github.com/akashmaji/goredis/internal/server"
	"github.com/akashmaji/goredis/internal/stats"
	"github.com/akashmaji/goredis/internal/store"
	"github.com/rs/zerolog"
)

const banner = `>>> goredis <<<`

func main() {
	fmt.Println(banner)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	configPath := "./config/goredis.conf"
	args := os.Args[1:]
	if len(args) > 0 {
		configPath = args[0]
	}
	if len(args) > 1 {
		log.Fatal().Msg("usage: goredis [config-file]")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("preparing data directories")
	}

	s := store.New()

	var w *aof.Writer
	if cfg.AOFEnabled {
		w, err = aof.Open(cfg.AOFPath(), cfg.TempDir, cfg.AOFSyncPolicy, cfg.AOFRewriteMinSize, cfg.AOFRewritePercent, log)
		if err != nil {
			log.Fatal().Err(err).Msg("opening aof")
		}
	}

	rdbHandler := rdb.New(rdb.Options{})
	persist := persistence.New(cfg, s, w, rdbHandler, log)

	if res, err := persist.RecoverData(); err != nil {
		log.Fatal().Err(err).Msg("recovering persisted state")
	} else {
		log.Info().Str("source", res.Source).Int("replayed", res.LinesReplayed).Int("skipped", res.LinesSkipped).Msg("startup recovery")
	}

	reporter := stats.New(cfg.Port)
	d := dispatcher.New(s, persist, reporter, cfg.TTLReplyMode, log)
	srv := server.New(cfg, d, s, persist, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown signal received")
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	log.Info().Msg("flushing persistence before exit")
	if err := persist.Stop(); err != nil {
		log.Error().Err(err).Msg("error during final persistence flush")
	}

	log.Info().Msg("goodbye")
}
