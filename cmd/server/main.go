package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Liveroom/internal/adapters/http"
	"github.com/dkeye/Liveroom/internal/adapters/memory"
	"github.com/dkeye/Liveroom/internal/adapters/notify"
	"github.com/dkeye/Liveroom/internal/adapters/payments"
	"github.com/dkeye/Liveroom/internal/adapters/postgres"
	"github.com/dkeye/Liveroom/internal/adapters/rtc"
	wsignal "github.com/dkeye/Liveroom/internal/adapters/signal"
	"github.com/dkeye/Liveroom/internal/app"
	"github.com/dkeye/Liveroom/internal/app/orch"
	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/config"
	"github.com/dkeye/Liveroom/internal/sweeper"
	api "github.com/dkeye/Liveroom/internal/transport/http"
)

// store is what both the billing engine and the orchestrator persist into.
type store interface {
	orch.Catalog
	billing.Store
	Ping(ctx context.Context) error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	sessionFee, err := decimal.NewFromString(cfg.Billing.SessionFee)
	if err != nil {
		return fmt.Errorf("billing.session_fee: %w", err)
	}
	giftFee, err := decimal.NewFromString(cfg.Billing.GiftFee)
	if err != nil {
		return fmt.Errorf("billing.gift_fee: %w", err)
	}

	ice := rtc.ICEConfig{
		STUN:           cfg.WebRTC.ICEServers,
		TURNServers:    cfg.WebRTC.TURNServers,
		TURNUsername:   cfg.WebRTC.TURNUsername,
		TURNCredential: cfg.WebRTC.TURNCredential,
	}
	if err := rtc.ValidateICEConfig(ice); err != nil {
		log.Warn().Err(err).Msg("ice configuration")
	}

	gateway := payments.NewClient(payments.Config{
		BaseURL:   cfg.Payments.BaseURL,
		SecretKey: cfg.Payments.SecretKey,
		Timeout:   cfg.Payments.Timeout,
	})
	engine := billing.NewEngine(billing.Config{
		TickPeriod: cfg.Billing.TickPeriod,
		Currency:   cfg.Billing.Currency,
		SessionFee: sessionFee,
		GiftFee:    giftFee,
	}, gateway, db)
	defer engine.Shutdown()

	reg := app.NewRegistry(cfg.Heartbeat.MaxMissed)
	rooms := app.NewRoomManager(reg, app.PolicyByName(cfg.Backpressure))
	signals := app.NewRouter(reg, rooms, rtc.NewValidator())
	hooks := notify.NewWebhook(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Secret:     cfg.Notify.Secret,
		Timeout:    cfg.Notify.Timeout,
	})
	o := orch.New(reg, rooms, signals, engine, db, hooks)
	defer o.Wait()

	heartbeat := app.NewHeartbeatMonitor(reg, cfg.Heartbeat.Interval)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	sweep := sweeper.New(sweeper.Config{
		Schedule:      cfg.Sweeper.Schedule,
		StaleAfter:    cfg.Sweeper.StaleAfter,
		MaxSessionAge: cfg.Sweeper.MaxSessionAge,
	}, engine)
	if err := sweep.Start(ctx); err != nil {
		return err
	}
	defer sweep.Stop()

	ws := wsignal.NewHandler(ctx, o, wsignal.Config{
		ReadLimit:      cfg.ReadLimit,
		SendBuffer:     cfg.SendBuffer,
		RateLimit:      cfg.RateLimit,
		RateInterval:   cfg.RateInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	rest := api.NewAPI(o, ice, map[string]api.Probe{
		"database": db.Ping,
		"payments": gateway.Ping,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, ws, rest),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Liveroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}

// openStore connects to Postgres when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if cfg.Postgres.DSN == "" {
		log.Warn().Msg("postgres.dsn not set, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MaxConnLifetime: time.Hour,
		ApplicationName: "liveroom",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("postgres connected")
	return postgres.NewStore(pool), pool.Close, nil
}
