package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/api"
	"github.com/transfa/user-service/internal/app"
	"github.com/transfa/user-service/internal/config"
	"github.com/transfa/user-service/internal/logging"
	"github.com/transfa/user-service/internal/registration"
	"github.com/transfa/user-service/internal/security"
	"github.com/transfa/user-service/internal/store"
	"github.com/transfa/user-service/pkg/idpclient"
	"github.com/transfa/user-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("cannot build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("cannot open store", zap.Error(err))
	}
	defer closeStore()

	connect := func() (rabbitmq.Publisher, error) {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger.Named("rabbitmq"))
		if err != nil {
			return nil, err
		}
		return producer, nil
	}

	// Allow running without a broker; events are parked in the outbox until it is reachable.
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, lifecycle events will only be logged")
		publisher = &rabbitmq.LogPublisher{Logger: logger.Named("events")}
	} else {
		logger.Info("connecting to RabbitMQ", zap.String("url", rabbitmq.MaskURL(cfg.RabbitMQURL)))
		if p, err := connect(); err != nil {
			logger.Warn("failed to connect to RabbitMQ at startup, continuing with outbox only", zap.Error(err))
		} else {
			publisher = p
			defer p.Close()
			logger.Info("RabbitMQ producer connected")
		}

		dispatcher := app.NewOutboxDispatcher(repo, connect, cfg.OutboxPollInterval, logger.Named("outbox"))
		go dispatcher.Run(ctx)
	}

	scheduler := app.NewScheduler(repo, cfg.OutboxPurgeSchedule, cfg.OutboxRetention, logger.Named("scheduler"))
	if err := scheduler.Start(); err != nil {
		logger.Fatal("cannot schedule outbox purge", zap.Error(err))
	}
	defer scheduler.Stop()

	emitter := app.NewLifecycleEmitter(publisher, repo, cfg.EventsExchange, cfg.EventPublishTimeout, logger.Named("events"))

	tracker := registration.NewTracker(
		repo,
		emitter,
		registration.NewEvaluator(registration.UserFieldGroups()...),
		security.MinQuestions(cfg.SecurityMinQuestions),
		registration.TrackerOptions{EmitUnchanged: cfg.EmitUnchanged},
		logger.Named("registration"),
	)

	securityLocks := security.NewKeyedMutex()
	lockout := security.NewLockoutPolicy(repo, security.DefaultLockoutThreshold, securityLocks)

	idp := idpclient.NewClient(idpclient.Config{
		BaseURL:      cfg.IdPBaseURL,
		ClientID:     cfg.IdPClientID,
		ClientSecret: cfg.IdPClientSecret,
		TokenURL:     cfg.IdPTokenURL,
		Timeout:      cfg.ExternalCallTimeout,
	})

	svc := app.NewUserService(repo, idp, tracker, lockout, emitter, securityLocks, app.ServiceOptions{
		ExternalCallTimeout: cfg.ExternalCallTimeout,
		AnswerHasher:        security.BcryptHasher(cfg.SecurityAnswerHashCost),
	}, logger.Named("service"))

	handler := api.NewHandler(svc, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		Auth: api.AuthMiddlewareConfig{
			JWKSURL:             cfg.AuthJWKSURL,
			ExpectedAudience:    cfg.AuthAudience,
			ExpectedIssuer:      cfg.AuthIssuer,
			AllowHeaderFallback: cfg.AuthAllowHeaderFallback,
		},
		AllowedOrigins: cfg.AllowedOrigins(),
	}, logger.Named("http"))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server gracefully stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, func(), error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		repo, err := store.NewMemoryRepository()
		return repo, func() {}, err
	}

	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with pgbouncer.
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connection established")
	return store.NewPostgresRepository(pool), pool.Close, nil
}
