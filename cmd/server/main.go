package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/api"
	"github.com/paperdesk/venue-engine/internal/book"
	"github.com/paperdesk/venue-engine/internal/bus"
	"github.com/paperdesk/venue-engine/internal/config"
	"github.com/paperdesk/venue-engine/internal/dealer"
	"github.com/paperdesk/venue-engine/internal/ledger"
	"github.com/paperdesk/venue-engine/internal/match"
	"github.com/paperdesk/venue-engine/internal/metrics"
	"github.com/paperdesk/venue-engine/internal/model"
	"github.com/paperdesk/venue-engine/internal/risk"
	"github.com/paperdesk/venue-engine/internal/sim"
	"github.com/paperdesk/venue-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	universe, err := config.LoadUniverse(cfg.UniversePath)
	if err != nil {
		slog.Error("universe load failed", "path", cfg.UniversePath, "err", err)
		os.Exit(1)
	}

	// --- Store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore(0)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis last-value cache enabled")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Event bus ---
	eventBus := bus.New(universe.BusRetention)
	defer eventBus.Close()

	// --- Ledger, matching engine and simulator ---
	led := ledger.New(st, time.Now)
	engine := match.NewEngine(led, st, eventBus, universe.QuoteFreshness(), time.Now)

	sink := func(t model.Tick) {
		metrics.TicksGenerated.WithLabelValues(t.InstrumentID).Inc()
		if err := st.AppendTick(ctx, t); err != nil {
			slog.Warn("tick append failed", "instrument", t.InstrumentID, "err", err)
		}
		env, err := model.NewEnvelope(model.EventTick, t.InstrumentID, t.Timestamp, model.TickEventFrom(t))
		if err != nil {
			slog.Error("encode tick failed", "instrument", t.InstrumentID, "err", err)
			return
		}
		if _, err := eventBus.Publish(model.TopicMarket, env); err != nil {
			slog.Warn("tick publish failed", "instrument", t.InstrumentID, "err", err)
			return
		}
		metrics.BusPublished.WithLabelValues(model.TopicMarket).Inc()
	}
	sched := sim.NewScheduler(sink, time.Now)

	instruments := make([]model.Instrument, 0, len(universe.Instruments))
	for _, spec := range universe.Instruments {
		inst := spec.Model()
		instruments = append(instruments, inst)
		if err := buildFeed(sched, engine, universe, spec, inst); err != nil {
			slog.Error("instrument setup failed", "instrument", spec.ID, "err", err)
			os.Exit(1)
		}
	}
	// --- Risk aggregator and account seeding ---
	epsilon := decimal.NewFromFloat(universe.RiskEpsilon)
	agg := risk.NewAggregator(st, eventBus, instruments, epsilon, time.Now)
	for _, acct := range universe.Accounts {
		cash, _ := decimal.NewFromString(acct.Cash)
		if err := led.CreateAccount(acct.UserID, acct.Currency, cash, acct.MarginAllowed); err != nil {
			slog.Error("account seed failed", "user", acct.UserID, "err", err)
			os.Exit(1)
		}
		agg.SeedAccount(acct.UserID, cash)
		slog.Info("account seeded", "user", acct.UserID, "cash", cash, "margin", acct.MarginAllowed)
	}

	// --- Consumers ---
	go sched.Run(ctx)
	go eventBus.Subscribe(model.TopicMarket, "match-engine").Run(ctx, engine.MarketHandler(ctx))
	go eventBus.Subscribe(model.TopicOrders, "match-engine").Run(ctx, engine.OrdersHandler(ctx))
	go eventBus.Subscribe(model.TopicMarket, "risk-market").Run(ctx, agg.MarketHandler(ctx))
	go eventBus.Subscribe(model.TopicExecutions, "risk-executions").Run(ctx, agg.ExecutionsHandler(ctx))

	wsHub := api.NewWSHub()
	go wsHub.Run()
	for _, topic := range []string{model.TopicMarket, model.TopicExecutions, model.TopicRisk} {
		go eventBus.Subscribe(topic, "ws-fanout:"+topic).Run(ctx, wsHub.BusHandler())
	}

	if rdb != nil {
		mirror := bus.NewStreamMirror(rdb, "venue")
		for _, topic := range []string{model.TopicMarket, model.TopicExecutions, model.TopicRisk} {
			go eventBus.Subscribe(topic, "redis-mirror:"+topic).Run(ctx, mirror.Handler(ctx, topic))
		}
		slog.Info("Redis stream mirror enabled")
	}

	// --- HTTP router ---
	svc := api.NewService(engine, led, agg, st, sched, universe)

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
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("venue-engine listening", "port", cfg.Port, "instruments", len(instruments))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down venue-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("venue-engine stopped")
}

// buildFeed constructs the price process, the book or dealer panel, and
// the scheduler feed for one instrument, applying its boot scenario.
func buildFeed(sched *sim.Scheduler, engine *match.Engine, universe config.Universe, spec config.InstrumentSpec, inst model.Instrument) error {
	seed := spec.Seed
	if seed == 0 {
		seed = universe.Seed ^ idSeed(spec.ID)
	}

	var proc sim.Process
	var err error
	if inst.Class.RateDriven() {
		proc, err = sim.NewOU(spec.Start, spec.Kappa, spec.Theta, spec.Vol, seed)
	} else {
		proc, err = sim.NewGBM(spec.Start, spec.Drift, spec.Vol, seed)
	}
	if err != nil {
		return err
	}
	gen := sim.NewGenerator(spec.ID, proc)

	regime := "normal"
	if spec.Scenario != "" {
		scen, _ := universe.Scenario(spec.Scenario)
		gen.ApplyOverride(sim.Override{
			Name:       spec.Scenario,
			VolScale:   scen.VolScale,
			DriftShift: scen.DriftShift,
			MeanShift:  scen.MeanShift,
			Halted:     scen.Halted,
		})
		regime = spec.Scenario
	}

	var meta sim.MetadataFunc
	switch inst.Class {
	case model.AssetSwap, model.AssetBond:
		meta = sim.SwapCurveMetadata(inst.Tier, spec.Tenor, spec.Curve, spec.DV01PerMillion)
	case model.AssetFuture:
		if spec.ContractMonth != "" {
			mult := decimal.NewFromInt(1)
			if spec.Multiplier != "" {
				mult, _ = decimal.NewFromString(spec.Multiplier)
			}
			meta = sim.FutureContractMetadata(inst.Tier, spec.ContractMonth, mult)
		}
	}

	if inst.Class.OTC() {
		panel, err := dealer.NewPanel(spec.ID, dealer.Config{
			Dealers:    spec.Dealers.IDs,
			BaseSpread: spec.Dealers.BaseSpread,
			SpreadVol:  spec.Dealers.SpreadVol,
			SkewVol:    spec.Dealers.SkewVol,
			MinSpread:  spec.Dealers.MinSpread,
		}, seed+1)
		if err != nil {
			return err
		}
		if err := engine.RegisterOTC(inst, panel); err != nil {
			return err
		}
	} else {
		baseQty, _ := decimal.NewFromString(spec.Book.BaseQty)
		bk, err := book.NewSimulator(spec.ID, book.Config{
			Levels:     spec.Book.Levels,
			TickSize:   inst.TickSize,
			BaseQty:    baseQty,
			QtyDecay:   spec.Book.QtyDecay,
			PriceNoise: spec.Book.PriceNoise,
		}, seed+1)
		if err != nil {
			return err
		}
		if err := engine.RegisterListed(inst, bk); err != nil {
			return err
		}
	}

	sched.AddFeed(&sim.Feed{
		Instrument: inst,
		Gen:        gen,
		Interval:   spec.Interval(),
		Regime:     regime,
		Metadata:   meta,
	})
	return nil
}

func idSeed(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
