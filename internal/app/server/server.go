package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cta-engine/internal/api"
	"cta-engine/internal/config"
	"cta-engine/internal/cooldown"
	"cta-engine/internal/engine"
	"cta-engine/internal/listener"
	"cta-engine/internal/storage"
)

// Run wires storage, the engine and the HTTP server and blocks until SIGINT
// or SIGTERM, or until one of the supervised goroutines fails.
func Run(cfg config.Config) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		src  engine.Source
		pg   *storage.Store
		file *storage.FileStore
	)
	switch cfg.Storage.Driver {
	case "file":
		file = storage.NewFileStore(cfg.Storage.CatalogPath)
		src = file
	case "postgres":
		store, err := storage.New(rootCtx, cfg)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		pg, src = store, store
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// Engine
	eng := engine.NewEngine(src, engine.Options{
		ContentSelector: cfg.Hooks.ContentSelector,
		ForceAssetLoad:  cfg.Hooks.ForceAssetLoad,
	})
	if err := eng.BuildSnapshot(rootCtx); err != nil {
		return fmt.Errorf("initial snapshot build: %w", err)
	}

	// Visitor state
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		client, err := cooldown.NewRedisClient(rootCtx, cfg.Redis.URL)
		if err != nil {
			// cookies alone still carry cooldowns
			log.Warn().Err(err).Msg("redis unavailable; visitor state falls back to cookies")
		} else {
			rdb = client
			defer rdb.Close()
		}
	}

	// HTTP
	h := api.NewCTAHandler(eng, rdb, cfg.Redis.KeyPrefix, api.Hooks{
		ContentSelector:  cfg.Hooks.ContentSelector,
		GlobalCooldown:   cfg.GlobalCooldown(),
		TemplateCooldown: cfg.TemplateCooldown(),
		OverlayColor:     cfg.Hooks.OverlayColor,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	// Listener (LISTEN/NOTIFY)
	if pg != nil {
		channel := cfg.Listener.Channel
		if channel == "" {
			channel = pg.ListenChannel()
		}
		g.Go(func() error {
			return listener.ListenAndRefresh(ctx, pg.PgxPool(), eng, channel, cfg.Backoff())
		})
	}
	if file != nil {
		log.Info().Str("catalog", cfg.Storage.CatalogPath).Dur("every", cfg.RefreshInterval()).Msg("polling catalog file")
		g.Go(func() error {
			return listener.PollAndRefresh(ctx, eng, cfg.RefreshInterval())
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutdown...")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	return g.Wait()
}
