package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noxfi/nox-indexer/internal/api"
	"github.com/noxfi/nox-indexer/internal/auth"
	"github.com/noxfi/nox-indexer/internal/config"
	"github.com/noxfi/nox-indexer/internal/dispatch"
	"github.com/noxfi/nox-indexer/internal/ledger"
	"github.com/noxfi/nox-indexer/internal/poller"
	"github.com/noxfi/nox-indexer/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("nox-indexer exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("nox-indexer stopped")
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database.URL, int(cfg.Database.MaxConns))
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Replay guard ---
	var guard auth.NonceGuard = auth.NewMemoryNonceGuard()
	if rdb != nil {
		guard = auth.NewRedisNonceGuard(rdb)
	}

	// --- Ledger client ---
	client := ledger.NewClient(cfg.Ledger.RPCURL,
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithRetries(cfg.Ledger.MaxRetries, time.Second),
		ledger.WithLogger(logger),
	)
	info, err := client.LedgerInfo(ctx)
	if err != nil {
		return fmt.Errorf("ledger node unreachable at %s: %w", cfg.Ledger.RPCURL, err)
	}
	slog.Info("connected to ledger node",
		"rpc_url", cfg.Ledger.RPCURL,
		"chain_id", info.ChainID,
		"ledger_version", uint64(info.LedgerVersion),
	)

	// --- Ingestion ---
	hub := api.NewHub(logger)
	disp := dispatch.New(st, hub, logger)
	p := poller.New(poller.Config{
		ModuleAddress: cfg.ModuleOwner(),
		ChunkSize:     cfg.Poller.ChunkSize,
		Lookback:      cfg.Poller.Lookback,
		PollInterval:  cfg.Poller.PollInterval,
		ChunkDelay:    cfg.Poller.ChunkDelay,
		RestartDelay:  cfg.Poller.RestartDelay,
	}, client, disp, st, logger)

	// --- HTTP ---
	svc := api.NewService(st, auth.NewVerifier(guard, cfg.Auth.MaxSkew), p, logger)
	srv := &http.Server{
		Addr:         cfg.Server.BindAddress,
		Handler:      api.NewRouter(svc, hub),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// An API failure takes the poller down with it and exits non-zero.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("nox-indexer listening", "addr", cfg.Server.BindAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down nox-indexer...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		return nil
	})

	return g.Wait()
}
