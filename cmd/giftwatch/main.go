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
	"go.uber.org/zap"

	"github.com/lunargate/giftwatch/internal/announce"
	"github.com/lunargate/giftwatch/internal/api"
	"github.com/lunargate/giftwatch/internal/circuitbreaker"
	"github.com/lunargate/giftwatch/internal/config"
	"github.com/lunargate/giftwatch/internal/db"
	"github.com/lunargate/giftwatch/internal/dispatcher"
	"github.com/lunargate/giftwatch/internal/engine"
	"github.com/lunargate/giftwatch/internal/ingest"
	"github.com/lunargate/giftwatch/internal/metrics"
	"github.com/lunargate/giftwatch/internal/observ"
	"github.com/lunargate/giftwatch/internal/redis"
	"github.com/lunargate/giftwatch/internal/rules"
	"github.com/lunargate/giftwatch/internal/sender"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting giftwatch",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int64("room_id", cfg.RoomID),
	)

	loc, err := time.LoadLocation(cfg.RoomTimezone)
	if err != nil {
		return fmt.Errorf("failed to load room timezone: %w", err)
	}

	// Initialize database connection
	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	events := db.NewEventRepository(database, logger)
	queue := db.NewQueueRepository(database, logger)

	if err := queue.EnsureMeta(ctx, cfg.RoomID); err != nil {
		return fmt.Errorf("failed to initialize queue meta: %w", err)
	}

	// Redis backs event dedup and the query-API rate limit. Both fail
	// open, so an unreachable redis degrades rather than aborts.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, dedup and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var deduper *redis.Deduper
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		deduper = redis.NewDeduper(redisClient)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  120,
			Window: time.Minute,
		})
		defer redisClient.Close()
	}

	// Matching rules and the aggregation engine
	ruleSet := rules.NewSet(
		rules.NewNameRule(cfg.TargetGiftNames, cfg.GiftThreshold),
		rules.NewIDRule(cfg.TargetGiftIDs, cfg.GiftThreshold),
	)
	if ruleSet.Empty() {
		logger.Warn("no matching rules configured, gifts are recorded but never thanked")
	}

	eng := engine.New(events, queue, ruleSet, engine.Options{
		RoomID:        cfg.RoomID,
		DailyLimit:    cfg.DailyThankLimit,
		ThankTemplate: cfg.ThankTemplate,
		GuardTemplate: cfg.GuardTemplate,
		ThankGuard:    cfg.ThankGuard,
		AnonymousName: cfg.AnonymousName,
		Location:      loc,
	}, logger)

	// Ingestion pipeline; deduper may be nil
	var dedup ingest.Deduper
	if deduper != nil {
		dedup = deduper
	}
	pipeline := ingest.NewPipeline(ingest.NewParser(cfg.RoomID), dedup, events, eng, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Optional SQS event source
	if cfg.SQSQueueURL != "" {
		source, err := ingest.NewSQSSource(ctx, ingest.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, pipeline, logger)
		if err != nil {
			logger.Warn("sqs source unavailable, relying on http ingestion", zap.Error(err))
		} else {
			go source.Run(bgCtx)
		}
	}

	// Outbound sender: the real chat endpoint when credentials are
	// configured, a log sink otherwise. Either way behind the breaker.
	var chatSender sender.Sender
	if cfg.ChatAPIURL != "" {
		chatSender = sender.NewChatSender(sender.ChatConfig{
			APIURL: cfg.ChatAPIURL,
			Credentials: sender.Credentials{
				SessData: cfg.BotSessData,
				CSRF:     cfg.BotCSRF,
				Buvid:    cfg.BotBuvid,
			},
			Timeout: cfg.SendTimeout,
		}, logger)
	} else {
		logger.Warn("no chat endpoint configured, messages are logged only")
		chatSender = sender.NewLogSender(logger)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("chat"), logger)
	protected := circuitbreaker.NewProtectedSender(chatSender, breaker, logger)

	disp := dispatcher.New(queue, protected, dispatcher.Config{
		RoomID:      cfg.RoomID,
		MinInterval: cfg.MinSendInterval,
		Poll:        cfg.DispatchPoll,
		SendTimeout: cfg.SendTimeout,
	}, logger)
	go disp.Run(bgCtx)

	if cfg.AnnounceEnabled {
		announcer := announce.New(queue, announce.Config{
			RoomID:   cfg.RoomID,
			Interval: cfg.AnnounceInterval,
			Messages: cfg.AnnounceMessages,
		}, logger)
		go announcer.Run(bgCtx)
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

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

	handler := api.NewHandler(logger, cfg.RoomID, events, queue, pipeline)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Get("/gifts", handler.ListGifts)
		r.Get("/queue", handler.ListQueue)
		r.Post("/queue/{id}/requeue", handler.RequeueMessage)
		r.Post("/events", handler.IngestEvent)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := database.Health(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		bgCancel()

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
