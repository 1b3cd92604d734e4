package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/config"
	"github.com/PaulSamPS/e-commerce-server/internal/event"
	handler "github.com/PaulSamPS/e-commerce-server/internal/handler/http"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	"github.com/PaulSamPS/e-commerce-server/internal/repository/memory"
	"github.com/PaulSamPS/e-commerce-server/internal/repository/postgres"
	redisrepo "github.com/PaulSamPS/e-commerce-server/internal/repository/redis"
	"github.com/PaulSamPS/e-commerce-server/internal/service"
	"github.com/PaulSamPS/e-commerce-server/migrations"
	"github.com/PaulSamPS/e-commerce-server/pkg/breaker"
	"github.com/PaulSamPS/e-commerce-server/pkg/database"
	"github.com/PaulSamPS/e-commerce-server/pkg/health"
	pkgkafka "github.com/PaulSamPS/e-commerce-server/pkg/kafka"
	"github.com/PaulSamPS/e-commerce-server/pkg/middleware"
	"github.com/PaulSamPS/e-commerce-server/pkg/tracing"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stopBackground context.CancelFunc
}

type repositories struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	codes    repository.CodeRepository
}

// NewApp creates a new application instance, initializing all dependencies.
// On error every component opened so far is closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeInfra()
		}
	}()

	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	if cfg.NeedsPostgres() {
		if err := a.openPostgres(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.NeedsRedis() {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}

	// Events are optional: a nil publisher disables them.
	var (
		sessionEvents service.SessionEvents
		accountEvents service.AccountEvents
	)
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		cb := breaker.New[struct{}](breaker.DefaultConfig("kafka-events"), logger)
		events := event.NewProducer(a.producer, cb, logger)
		sessionEvents, accountEvents = events, events
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	repos := a.repositories()
	logger.Info("repositories selected", slog.String("session_store", cfg.SessionStore))

	signer, err := auth.NewSigner(cfg.Secrets())
	if err != nil {
		return nil, fmt.Errorf("create token signer: %w", err)
	}

	sessions := service.NewSessionService(signer, repos.sessions, sessionEvents, logger, service.SessionConfig{
		RevokeOnReuse:   cfg.SessionRevokeOnReuse,
		RotationTimeout: cfg.RotationTimeout,
	})
	accounts := service.NewAccountService(repos.users, repos.codes, sessions, accountEvents, logger, cfg.VerificationCodeTTL)

	bgCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop

	router := handler.NewRouter(bgCtx, a.routerConfig(), handler.Services{
		Accounts: accounts,
		Sessions: sessions,
		Verifier: signer,
		Health:   a.healthChecks(),
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) openPostgres(ctx context.Context) error {
	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, pgCfg, a.logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, a.cfg.ServiceName); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold, a.logger)
	}
	return nil
}

// repositories picks the backends for SESSION_STORE. Users live in
// PostgreSQL and codes in Redis unless everything runs in memory.
func (a *App) repositories() repositories {
	if a.cfg.SessionStore == config.StoreMemory {
		a.logger.Warn("running with in-memory stores; state is lost on restart")
		return repositories{
			users:    memory.NewUserRepository(),
			sessions: memory.NewSessionRepository(),
			codes:    memory.NewCodeRepository(),
		}
	}

	repos := repositories{
		users: postgres.NewUserRepository(a.pool),
		codes: redisrepo.NewCodeRepository(a.redis, ""),
	}
	if a.cfg.SessionStore == config.StoreRedis {
		repos.sessions = redisrepo.NewSessionRepository(a.redis, "")
	} else {
		repos.sessions = postgres.NewSessionRepository(a.pool)
	}
	return repos
}

func (a *App) healthChecks() *health.Handler {
	h := health.NewHandler()
	if a.pool != nil {
		h.RegisterCritical("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	if a.redis != nil {
		h.RegisterCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		h.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}
	return h
}

func (a *App) routerConfig() handler.RouterConfig {
	return handler.RouterConfig{
		ServiceName: a.cfg.ServiceName,
		Cookies: handler.CookieConfig{
			Secure: a.cfg.CookieSecure,
			MaxAge: a.cfg.CookieMaxAge,
			Domain: a.cfg.CookieDomain,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   a.cfg.CORSAllowedOrigins,
			AllowCredentials: true,
		},
		RateLimit: middleware.RateLimitConfig{
			RPS:               a.cfg.AuthRateLimitRPS,
			Burst:             a.cfg.AuthRateLimitBurst,
			TrustProxyHeaders: a.cfg.TrustProxyHeaders,
		},
		PprofAllowedCIDRs: a.cfg.PprofAllowedCIDRs,
	}
}

// Handler returns the HTTP handler served by the application.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.stopBackground != nil {
		a.stopBackground()
	}

	if err := a.closeInfra(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeInfra releases everything but the HTTP server. Nil components are skipped.
func (a *App) closeInfra() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
