package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/api"
	"github.com/voxdrop/voxdrop/internal/audio"
	"github.com/voxdrop/voxdrop/internal/circuitbreaker"
	"github.com/voxdrop/voxdrop/internal/config"
	"github.com/voxdrop/voxdrop/internal/cost"
	"github.com/voxdrop/voxdrop/internal/db"
	"github.com/voxdrop/voxdrop/internal/dispatch"
	"github.com/voxdrop/voxdrop/internal/metrics"
	"github.com/voxdrop/voxdrop/internal/observ"
	"github.com/voxdrop/voxdrop/internal/redis"
	"github.com/voxdrop/voxdrop/internal/sqs"
	"github.com/voxdrop/voxdrop/internal/telephony"
	"github.com/voxdrop/voxdrop/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting voxdrop gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("delivery_mode", cfg.DeliveryMode),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)

	// Redis for idempotency and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 submissions
			Window: 1 * time.Minute, // per minute per account
		})
		defer redisClient.Close()
	}

	// Speech synthesis is optional; without it only uploaded recordings and
	// in-call say mode work.
	var tts audio.Synthesizer
	if cfg.OpenAIAPIKey != "" {
		ttsClient, err := audio.NewTTSClient(audio.TTSConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.TTSModel,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create TTS client: %w", err)
		}
		tts = ttsClient
	} else {
		logger.Warn("OPENAI_API_KEY not set, speech synthesis disabled")
	}

	producer := audio.NewProducer(tts, repo, logger)

	// Telephony executor behind a circuit breaker
	executor := telephony.NewExecutor(telephony.Config{
		AccountSID:         cfg.TwilioAccountSID,
		AuthToken:          cfg.TwilioAuthToken,
		FromNumber:         cfg.TwilioFromNumber,
		CallbackURL:        cfg.PublicBaseURL + "/v1/callbacks/voice",
		Mode:               cfg.DeliveryMode,
		RingTimeoutSeconds: cfg.CallTimeoutSeconds,
	}, logger)

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("twilio"), logger)
	protected := circuitbreaker.NewProtectedExecutor(executor, breaker, logger)

	estimator := cost.NewEstimator(cfg.CostRatePerMinuteCents, cfg.CostMinimumCents)

	dispatcher := dispatch.New(protected, repo, estimator, dispatch.Config{
		BatchSize:       cfg.DispatchBatchSize,
		InterBatchDelay: cfg.InterBatchDelay,
	}, logger)

	trk := tracker.New(repo, estimator, logger)

	// Optional SQS callback buffer: the webhook enqueues and a background
	// consumer drains into the tracker.
	var callbackQueue *sqs.Producer
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}
		callbackQueue, err = sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, callbacks will be applied inline",
				zap.Error(err),
			)
		}

		consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, buffered callbacks will not drain",
				zap.Error(err),
			)
		} else {
			drainCtx, drainCancel := context.WithCancel(context.Background())
			defer drainCancel()
			go consumer.Drain(drainCtx, trk)
			logger.Info("callback drain loop started", zap.String("queue", cfg.SQSQueueURL))
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second)) // dispatch is synchronous across batches
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handlerCfg := api.Config{
		DeliveryMode:  cfg.DeliveryMode,
		PublicBaseURL: cfg.PublicBaseURL,
	}
	var handler *api.Handler
	if callbackQueue != nil {
		handler = api.NewHandlerWithCallbackQueue(logger, repo, dispatcher, producer, trk, handlerCfg, idempotencyService, callbackQueue)
	} else if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, dispatcher, producer, trk, handlerCfg, idempotencyService)
	} else {
		handler = api.NewHandler(logger, repo, dispatcher, producer, trk, handlerCfg)
	}

	r.Route("/v1", func(r chi.Router) {
		// Provider-facing routes stay outside the rate limiter: Twilio does
		// not send an account header and must never be throttled.
		r.Post("/callbacks/voice", handler.VoiceCallback)
		r.Get("/audio/{id}", handler.ServeAudio)

		r.Group(func(r chi.Router) {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.AccountKeyFunc))

			r.Post("/dispatches", handler.CreateDispatch)
			r.Get("/attempts/{id}", handler.GetAttempt)
			r.Get("/campaigns/{id}/stats", handler.CampaignStats)
			r.Post("/audio", handler.CreateAudio)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
