package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sebastianusacom/banana-cases-sub000/internal/api"
	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/config"
	"github.com/sebastianusacom/banana-cases-sub000/internal/inventory"
	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/limits"
	"github.com/sebastianusacom/banana-cases-sub000/internal/metrics"
	"github.com/sebastianusacom/banana-cases-sub000/internal/round"
	"github.com/sebastianusacom/banana-cases-sub000/internal/session"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Stores ---
	var wallets ledger.Store
	var items inventory.Store
	var results session.ResultStore
	var cleanup []func()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		wallets = ledger.NewPostgresStore(pool)
		items = inventory.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			wallets = ledger.NewCachedStore(wallets, rdb, 30*time.Second)
			slog.Info("Redis balance cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory stores (data will not persist)")
		wallets = ledger.NewMemoryStore()
		items = inventory.NewMemoryStore()
	}

	if rdb != nil {
		results = session.NewRedisResults(rdb, 24*time.Hour)
	} else {
		results = session.NewMemoryResults()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Catalog and limits ---
	cat, err := catalog.New(cfg.Cases, cfg.Crash.PayoutFactor)
	if err != nil {
		slog.Error("catalog invalid", "err", err)
		os.Exit(1)
	}
	limiter := limits.NewStakeLimiter(cfg.Limits.MaxStake, cfg.Limits.MaxOpenStake)

	// --- Game services ---
	authority := session.NewLocalAuthority(cat, nil)
	draws := session.NewDrawService(cat, wallets, items, results, limiter, authority, 0)
	upgrades := session.NewUpgradeService(cat, wallets, items, results, authority, nil, cfg.UpgradeFee, 0)

	// --- Crash tables ---
	runCtx, stopTables := context.WithCancel(context.Background())
	defer stopTables()

	wsHub := api.NewWSHub()
	go wsHub.Run()

	tables := make(map[string]*round.Manager, len(cfg.Crash.Tables))
	for _, id := range cfg.Crash.Tables {
		mgr := round.NewManager(round.Config{
			TableID:      id,
			PayoutFactor: cfg.Crash.PayoutFactor,
			GrowthRate:   cfg.Crash.GrowthRate,
			TickInterval: cfg.Crash.TickInterval.Std(),
			WaitingDelay: cfg.Crash.WaitingDelay.Std(),
			Countdown:    cfg.Crash.Countdown.Std(),
			CrashPause:   cfg.Crash.CrashPause.Std(),
		}, wallets, limiter, nil)
		tables[id] = mgr
		go mgr.Run(runCtx)
		go api.PumpRounds(runCtx, mgr, wsHub)
	}

	srv := api.NewServer(tables, cat, draws, upgrades, wallets, items, wsHub, cfg.StartingBalance)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", srv.Routes)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", cfg.Port, "tables", len(tables))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	// Stop tables after the HTTP surface: open bets in the betting window
	// are refunded on the way out.
	stopTables()
	fmt.Println("wager-engine stopped")
}
