package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/admin"
	"github.com/Proton-105/claim-bot/internal/audit"
	"github.com/Proton-105/claim-bot/internal/bot"
	"github.com/Proton-105/claim-bot/internal/claim"
	"github.com/Proton-105/claim-bot/internal/conversation"
	"github.com/Proton-105/claim-bot/internal/database"
	"github.com/Proton-105/claim-bot/internal/endpoint"
	errors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/health"
	"github.com/Proton-105/claim-bot/internal/idempotency"
	"github.com/Proton-105/claim-bot/internal/jobs"
	"github.com/Proton-105/claim-bot/internal/lifecycle"
	"github.com/Proton-105/claim-bot/internal/login"
	"github.com/Proton-105/claim-bot/internal/middleware"
	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/internal/ratelimit"
	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/Proton-105/claim-bot/migrations"
	"github.com/Proton-105/claim-bot/pkg/config"
	"github.com/Proton-105/claim-bot/pkg/graceful"
	"github.com/Proton-105/claim-bot/pkg/logger"
	"github.com/Proton-105/claim-bot/pkg/metrics"
	"github.com/Proton-105/claim-bot/pkg/redis"
)

const (
	updateDedupTTL     = 10 * time.Minute
	rateLimitSweep     = 5 * time.Minute
	stateMetricsPeriod = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.AppEnv}); err != nil {
			fmt.Fprintf(os.Stderr, "init sentry: %v\n", err)
			cfg.Sentry.Enabled = false
		}
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	if err := run(ctx, cfg, v, log); err != nil {
		log.Error("claim bot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("claim bot stopped")
}

// stores holds the backend-specific pieces chosen by storage.backend.
type stores struct {
	states    state.Storage
	activated claim.KeySet
	blocked   claim.KeySet
	limiter   ratelimit.Limiter
	sweeper   ratelimit.Sweeper
	guard     idempotency.Guard
	redis     *redis.Client
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	memLimiter := ratelimit.NewMemoryLimiter()

	if cfg.Storage.Backend != "redis" {
		return &stores{
			states:    state.NewMemoryStorage(),
			activated: claim.NewMemoryKeySet(),
			blocked:   claim.NewMemoryKeySet(),
			limiter:   memLimiter,
			sweeper:   memLimiter,
			guard:     idempotency.NewMemoryGuard(),
		}, nil
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	adaptive := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rc.Client, log), memLimiter, log)

	return &stores{
		states:    state.NewRedisStorage(rc.Client, log, cfg.Storage.StateTTL),
		activated: claim.NewRedisKeySet(rc.Client, "activated"),
		blocked:   claim.NewRedisKeySet(rc.Client, "blocked"),
		limiter:   adaptive,
		sweeper:   adaptive,
		guard:     idempotency.NewRedisGuard(rc.Client, log),
		redis:     rc,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, v *viper.Viper, log *slog.Logger) error {
	log.Info("starting claim bot",
		slog.String("storage", cfg.Storage.Backend),
		slog.String("mode", cfg.Bot.Mode),
		slog.Bool("login_enabled", cfg.Login.Enabled),
		slog.Bool("audit_enabled", cfg.Audit.Enabled),
	)

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if st.redis != nil {
		checker.AddCheck("redis", st.redis)
		shutdown.RegisterPhase("close", "redis", func(context.Context) error { return st.redis.Close() })
	}

	var recorder claim.Recorder
	if cfg.Audit.Enabled {
		db, err := openAudit(ctx, cfg, log)
		if err != nil {
			return err
		}
		checker.AddCheck("postgres", health.NewDBChecker(db))
		shutdown.RegisterPhase("close", "postgres", func(context.Context) error { return db.Close() })
		recorder = audit.NewPostgresRecorder(db, log)
	}

	tg, err := bot.New(cfg.Bot, log)
	if err != nil {
		return err
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(tg.Telebot()))

	fsm := state.NewStateMachine(st.states, log, st.redisClient())
	supervisor := jobs.NewSupervisor(log)
	settings := claim.NewSettings(cfg.Engine)
	classifier := claim.NewClassifier(cfg.Engine.SuccessMarkers, cfg.Engine.FailureMarkers)
	notifier := notify.NewNotifier(tg.Sink(), log)

	caller := endpoint.NewClient(endpoint.Options{
		Timeout:      cfg.Endpoint.Timeout,
		MaxIdleConns: cfg.Endpoint.MaxIdleConn,
		UserAgent:    cfg.Endpoint.UserAgent,
	}, log)

	targets, err := claim.TargetsFromConfig(cfg.Claim)
	if err != nil {
		return err
	}

	orchestrator, err := claim.NewOrchestrator(claim.Dependencies{
		Caller:     caller,
		Settings:   settings,
		Classifier: classifier,
		Activated:  st.activated,
		Blocked:    st.blocked,
		Targets:    targets,
		Notifier:   notifier,
		Stages:     fsm,
		Recorder:   recorder,
		Log:        log,
	})
	if err != nil {
		return err
	}

	flow, err := login.NewFlow(login.Dependencies{
		Config: cfg.Login,
		Caller: caller,
		Sender: notifier,
		Stages: fsm,
		Gate:   settings,
		Menu:   conversation.MainMenu(),
		Log:    log,
	})
	if err != nil {
		return err
	}

	adminSvc := admin.NewService(settings, supervisor, st.activated, st.blocked, log)

	handlers, err := conversation.NewHandlers(conversation.Dependencies{
		Stages:   fsm,
		Jobs:     supervisor,
		Claims:   orchestrator,
		Login:    flow,
		Gate:     settings,
		Admin:    adminSvc,
		Channels: cfg.Bot.Channels,
		IsAdmin:  cfg.IsAdmin,
		Log:      log,
	})
	if err != nil {
		return err
	}
	dispatcher := conversation.NewDispatcher(fsm, log)
	handlers.Register(dispatcher)

	rules := ratelimit.NewRules(cfg.RateLimit, cfg.Bot.AdminIDs)
	tg.Mount(dispatcher, errors.NewHandler(log, cfg.Sentry.Enabled),
		middleware.Metrics,
		middleware.NewRateLimitMiddleware(st.limiter, rules, log).Handle,
		middleware.Idempotency(st.guard, updateDedupTTL, log),
	)
	if err := tg.Telebot().SetCommands(botCommands()); err != nil {
		log.Warn("failed to publish bot commands", slog.Any("error", err))
	}

	config.Watch(v, log, func(prev, next config.EngineConfig) {
		settings.ApplyChanges(prev, next)
		classifier.SetMarkers(next.SuccessMarkers, next.FailureMarkers)
	})

	httpServer := graceful.NewServer(log, &http.Server{
		Addr: cfg.Server.Port,
		Handler: admin.NewRouter(admin.RouterConfig{
			Service: adminSvc,
			Token:   cfg.Server.AdminToken,
			Health:  checker,
			Metrics: promhttp.Handler(),
			Log:     log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	stateCleaner := state.NewCleaner(st.states, log, cfg.Storage.StateTTL, cfg.Storage.SweepInterval, supervisor.IsRunning)
	limitCleaner := ratelimit.NewCleaner(st.sweeper, log, rateLimitSweep, windowOf(rules))
	collector := metrics.NewStateCollector(fsm, stateMetricsPeriod)

	shutdown.RegisterPhase("ingress", "telegram", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			tg.Stop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterPhase("jobs", "supervisor", supervisor.Shutdown)
	shutdown.RegisterPhase("close", "endpoint", func(context.Context) error { return caller.Close() })
	if cfg.Sentry.Enabled {
		shutdown.RegisterPhase("close", "sentry", func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tg.Start()
		return nil
	})
	g.Go(func() error { return httpServer.ListenAndServe(gctx) })
	g.Go(func() error {
		stateCleaner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limitCleaner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		collector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return shutdown.Execute(shutdownCtx)
	})

	return g.Wait()
}

func openAudit(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(ctx, cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, log).ApplyFS(ctx, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

func (s *stores) redisClient() *goredis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client
}

func windowOf(rules *ratelimit.Rules) time.Duration {
	_, window, err := rules.PerUser()
	if err != nil || window <= 0 {
		return time.Minute
	}
	return window
}

func botCommands() []telebot.Command {
	return []telebot.Command{
		{Text: "start", Description: "Open the main menu"},
		{Text: "login", Description: "Log in with your number"},
		{Text: "claim", Description: "Claim your MB offer"},
		{Text: "stop", Description: "Stop the running request"},
		{Text: "help", Description: "Show help"},
	}
}
