package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace-chat/internal/attachment"
	"marketplace-chat/internal/config"
	"marketplace-chat/internal/db"
	apihttp "marketplace-chat/internal/http"
	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/notify"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
	"marketplace-chat/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		gatherer = reg
	}

	var (
		conversationRepo repository.ConversationRepository
		messageRepo      repository.MessageRepository
		profileRepo      repository.ProfileRepository
		sink             notify.Sink = notify.LogSink{Logger: logger}
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if cfg.DBAutoMigrate {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				logger.Fatal("db schema", zap.Error(err))
			}
		}
		conversationRepo = repository.NewPgConversationRepository(pool)
		messageRepo = repository.NewPgMessageRepository(pool)
		profileRepo = repository.NewPgProfileRepository(pool)
		sink = notify.NewPgSink(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := repository.NewMemoryStore()
		conversationRepo = store.Conversations()
		messageRepo = store.Messages()
		profileRepo = repository.NewMemoryProfileRepository()
	}

	hub := realtime.NewHub(logger, m)
	defer hub.Close()

	sendWindow := time.Duration(cfg.SendRateWindowSeconds) * time.Second
	var (
		publisher   realtime.Publisher      = hub
		limiter     service.SendRateLimiter = service.NewMemoryRateLimiter(sendWindow, cfg.SendRateMax)
		notifier    notify.Notifier         = notify.NopNotifier{}
		asynqClient *asynq.Client
		asynqServer *asynq.Server
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, running single node", zap.Error(err))
			redisClient = nil
		}
		cancel()
	}
	if redisClient != nil {
		relay := realtime.NewRedisRelay(redisClient, hub, cfg.RedisChannelPrefix, logger, m)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", zap.Error(err))
			}
		}()
		publisher = relay
		limiter = service.NewRedisRateLimiter(redisClient, sendWindow, cfg.SendRateMax)
		profileRepo = repository.NewCachedProfileRepository(profileRepo, redisClient, time.Duration(cfg.ProfileCacheTTLSecs)*time.Second)

		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		asynqClient = asynq.NewClient(redisOpt)
		notifier = notify.NewQueueNotifier(asynqClient, cfg.NotifyQueue, logger)

		asynqServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 4,
			Queues:      map[string]int{cfg.NotifyQueue: 1},
		})
		mux := asynq.NewServeMux()
		notify.RegisterHandlers(mux, sink, logger)
		if err := asynqServer.Start(mux); err != nil {
			logger.Error("notification worker start failed", zap.Error(err))
			asynqServer = nil
		}
	}

	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}
	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)

	conversationSvc := service.NewConversationService(logger, conversationRepo, m)
	messageSvc := service.NewMessageService(logger, service.MessageServiceDeps{
		Conversations:   conversationSvc,
		Messages:        messageRepo,
		Profiles:        profileRepo,
		Publisher:       publisher,
		Notifier:        notifier,
		Attachments:     attachment.NewURLResolver(cfg.AttachmentBaseURL),
		Limiter:         limiter,
		Metrics:         m,
		HistoryPageSize: cfg.HistoryPageSize,
	})
	readSvc := service.NewReadStateService(logger, conversationSvc, messageRepo, publisher, m)
	inboxSvc := service.NewInboxService(logger, conversationRepo, profileRepo)

	router := apihttp.NewRouter(logger, apihttp.RouterDeps{
		JWT:      jwtSvc,
		Chat:     apihttp.NewChatHandler(logger, conversationSvc, messageSvc, readSvc, inboxSvc),
		Socket:   apihttp.NewSocketHandler(logger, hub, conversationSvc, messageSvc, readSvc, cfg.AllowedOrigins()),
		Metrics:  m,
		Gatherer: gatherer,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.Bool("postgres", cfg.UsesPostgres()), zap.Bool("redis", redisClient != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	messageSvc.WaitNotifications()
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if asynqClient != nil {
		_ = asynqClient.Close()
	}
}
