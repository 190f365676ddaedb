package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"securechat/internal/clock"
	"securechat/internal/config"
	"securechat/internal/crypto"
	"securechat/internal/db"
	"securechat/internal/events"
	apihttp "securechat/internal/http"
	"securechat/internal/llm"
	"securechat/internal/presence"
	"securechat/internal/repository"
	"securechat/internal/scheduler"
	"securechat/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
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

	codec, err := crypto.NewFromConfig(logger, cfg.EncryptionKey, cfg.EncryptionCipher, cfg.EncryptionStrictKey)
	if err != nil {
		logger.Fatal("encryption key", zap.Error(err))
	}

	clk := clock.Real{}

	var (
		conversationRepo repository.ConversationRepository
		messageRepo      repository.MessageRepository
		userRepo         repository.UserRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("db schema", zap.Error(err))
		}
		conversationRepo = repository.NewPgConversationRepository(pool, clk)
		messageRepo = repository.NewPgMessageRepository(pool, clk)
		userRepo = repository.NewPgUserRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store := repository.NewMemoryStore(clk)
		conversationRepo = store.Conversations()
		messageRepo = store.Messages()
		userRepo = store.Users()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NatsURL != "" {
		natsPub, err := events.NewNatsPublisher(ctx, logger, cfg.NatsURL, cfg.NatsStream)
		if err != nil {
			logger.Warn("nats publisher init failed", zap.Error(err))
		} else {
			defer natsPub.Close()
			publisher = natsPub
		}
	}

	limiter := service.NewSendRateLimiter(clk, cfg.SendRateWindow(), cfg.SendRateLimit)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory send limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisSendRateLimiter(logger, redisClient, clk, cfg.SendRateWindow(), cfg.SendRateLimit)
		}
		cancel()
	}

	assistantUser, err := userRepo.EnsureAssistant(ctx, cfg.AssistantEmail, cfg.AssistantName)
	if err != nil {
		logger.Fatal("assistant user", zap.Error(err))
	}

	var llmClient llm.LLMClient
	if cfg.LLMAPIKey != "" {
		llmClient = llm.NewHTTPClient(logger, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMSystemPrompt)
	} else {
		logger.Warn("LLM_API_KEY not set, assistant will answer with the fallback reply")
	}

	registry := presence.NewRegistry(logger)
	destructor := scheduler.New(logger, clk, messageRepo, registry, publisher)
	deliverySvc := service.NewDeliveryService(logger, conversationRepo, messageRepo, userRepo, codec, registry, destructor, publisher, limiter, clk)
	assistantSvc := service.NewAssistantService(logger, llmClient, conversationRepo, messageRepo, codec, assistantUser, clk)
	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)

	purger := service.NewPurgeWorker(logger, messageRepo, clk, cfg.PurgeInterval())
	go purger.Run(ctx)

	gateway := apihttp.NewGateway(logger, jwtSvc, registry, deliverySvc, cfg.SelfDestructAfter(), cfg.WSMaxMessageBytes)
	chatHandler := apihttp.NewChatHandler(logger, deliverySvc)
	assistantHandler := apihttp.NewAssistantHandler(logger, assistantSvc)
	router := apihttp.NewRouter(logger, jwtSvc, gateway, chatHandler, assistantHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("cipher", codec.Cipher()),
			zap.String("assistant_id", assistantUser.ID),
		)
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
	closed := gateway.Shutdown()
	pending := destructor.Stop()
	logger.Info("shutdown complete",
		zap.Int("closed_connections", closed),
		zap.Int("cancelled_timers", pending),
	)
}
