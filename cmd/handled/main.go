package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/claim"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/config"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/lookup"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/ratelimit"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/server"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("handled exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := buildHandler(cfg, store, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           server.NewMetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("handled starting", "addr", srv.Addr, "env", cfg.Env, "backend", cfg.StoreBackend)
		return listen(srv)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", metricsSrv.Addr)
			return listen(metricsSrv)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
		}
		if err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// buildHandler wires the claim and lookup services over store.
func buildHandler(cfg config.Config, store storage.Store, logger *slog.Logger) (*server.Handler, error) {
	reg := registry.New(store, logger)
	gov := ratelimit.New(store, "claim", cfg.ClaimRateLimit, cfg.ClaimRateWindow)
	orch := claim.New(gov, reg, logger)
	return server.New(cfg, store, orch, lookup.New(reg), logger)
}

// openStore connects the configured backend, retrying with exponential
// backoff for up to cfg.ConnectTimeout, and wraps it in a breaker when
// enabled.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	var store storage.Store
	connect := func() error {
		switch cfg.StoreBackend {
		case config.BackendRedis:
			s, err := storage.NewRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			store = s
		case config.BackendPostgres:
			s, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return backoff.Permanent(err)
			}
			store = s
		case config.BackendMemory:
			logger.Warn("using in-memory store, claims will not survive a restart")
			store = storage.NewMemory()
		default:
			return backoff.Permanent(fmt.Errorf("unsupported store backend %q", cfg.StoreBackend))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout
	notify := func(err error, wait time.Duration) {
		logger.Warn("store not reachable, retrying", "backend", cfg.StoreBackend, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	if cfg.BreakerEnabled && cfg.StoreBackend != config.BackendMemory {
		return storage.NewBreaker(store, logger, server.ObserveBreakerState), nil
	}
	return store, nil
}
