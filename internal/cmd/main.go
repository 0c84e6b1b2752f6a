package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkbray/jemima/internal/gateway"
	"github.com/mkbray/jemima/internal/pack"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	st, cleanup, err := setupStore(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("set up store")
	}
	defer cleanup()

	repo := room.NewRepository(st)
	seeder := pack.NewSeeder(st, clock)
	gw := gateway.NewServer(repo, seeder, clock, gateway.Config{
		BaseURL: cfg.BaseURL,
		Engine:  cfg.Engine,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: gw.Handler(),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreBackend).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
}

// setupStore selects the document store backend. The memory store serves a
// single-process deployment (and tests); postgres plus the NATS bridge serves
// anything multi-process.
func setupStore(ctx context.Context, cfg Config, clock clockwork.Clock) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		mem := store.NewMemory(clock)
		cleanup := func() {}
		if cfg.NATS.Enabled {
			notifier, err := store.NewNotifier(notifierConfig(cfg))
			if err != nil {
				return nil, nil, err
			}
			// Mirror commits so external observers can follow along.
			mem.SetMirror(notifier.Publish)
			cleanup = notifier.Close
		}
		return mem, cleanup, nil

	case "postgres":
		notifier, err := store.NewNotifier(notifierConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		pool, err := setupDatabase(ctx, cfg.DB)
		if err != nil {
			notifier.Close()
			return nil, nil, err
		}
		pg := store.NewPostgres(pool, notifier)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			notifier.Close()
			return nil, nil, err
		}
		return pg, func() {
			pool.Close()
			notifier.Close()
		}, nil

	default:
		return nil, nil, errors.New("STORE_BACKEND must be memory or postgres")
	}
}

func notifierConfig(cfg Config) store.NotifierConfig {
	nc := store.DefaultNotifierConfig()
	nc.URL = cfg.NATS.URL
	return nc
}
