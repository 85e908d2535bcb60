package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/config"
	"github.com/techsupport4/crm-auth/internal/infra/database"
	"github.com/techsupport4/crm-auth/internal/infra/geo"
	kafkainfra "github.com/techsupport4/crm-auth/internal/infra/kafka"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
	"github.com/techsupport4/crm-auth/internal/infra/mail"
	redisinfra "github.com/techsupport4/crm-auth/internal/infra/redis"
	"github.com/techsupport4/crm-auth/internal/infra/security"
	postgresrepo "github.com/techsupport4/crm-auth/internal/repository/postgres"
	redisrepo "github.com/techsupport4/crm-auth/internal/repository/redis"
	"github.com/techsupport4/crm-auth/internal/transport/http/middleware"
	"github.com/techsupport4/crm-auth/internal/transport/http/routes"
	"github.com/techsupport4/crm-auth/internal/usecase"
)

// Application owns the wired service graph and the HTTP server lifecycle.
type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	pool      *pgxpool.Pool
	redis     *redisinfra.Client
	publisher port.SecurityEventPublisher
	auth      *usecase.AuthService
	revoked   *security.RevokedTokenSet
}

// New wires configuration into a runnable application.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	signer, err := security.NewTokenSigner(cfg.JWT.Secret, cfg.App.Name, cfg.JWT.AccessTokenTTL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token signer: %w", err)
	}

	var publisher port.SecurityEventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			publisher = kafkainfra.NewStubPublisher(log)
		} else {
			publisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		publisher = kafkainfra.NewStubPublisher(log)
	}

	geoResolver := geo.NewStaticResolver()
	recorder := usecase.NewSecurityEventRecorder(repos.SecurityEvents, publisher, geoResolver, log)

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), cfg.Redis.LoginGuardPrefix)
	guard := usecase.NewLoginGuard(rateLimitStore, cfg.RateLimit.LoginWindow, cfg.RateLimit.LoginMaxAttempts, log)
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	pendingStore := redisrepo.NewPendingLoginRepository(redisClient.Client(), cfg.Redis.PendingLoginPrefix)

	mailer := mail.NewLoggingMailer(log)
	otpService := usecase.NewOTPService(cfg.OTP, repos.OTP, mailer, log)
	revoked := security.NewRevokedTokenSet()

	authService := usecase.NewAuthService(cfg, repos.Users, repos.Tokens, pendingStore,
		otpService, guard, hasher, signer, revoked, recorder, log).
		WithLoginAlerts(mailer, geoResolver)

	userService := usecase.NewUserService(repos.Users, repos.Tokens, hasher,
		security.DefaultPasswordValidator(), domain.NewSuperAdminPolicy(cfg.Admin.SuperAdminEmail), log).
		WithMailer(mailer)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		log.Warn("http metrics disabled", zap.Error(err))
		metrics = nil
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:     authService,
			Users:    userService,
			Recorder: recorder,
		},
	})

	return &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    log,
		pool:      pool,
		redis:     redisClient,
		publisher: publisher,
		auth:      authService,
		revoked:   revoked,
	}, nil
}

// Run starts the HTTP server and the background token sweeper, blocking until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.publisher != nil {
			if err := a.publisher.Close(); err != nil {
				a.logger.Warn("close event publisher failed", zap.Error(err))
			}
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.sweepExpiredTokens(sweepCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// sweepExpiredTokens periodically deletes expired refresh token rows and
// prunes the in-memory revoked access token set.
func (a *Application) sweepExpiredTokens(ctx context.Context) {
	interval := a.cfg.Cleanup.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.auth.CleanupExpiredTokens(ctx)
			a.revoked.Prune()
		}
	}
}
