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

	"github.com/daybreakhq/daybreak/internal/api"
	"github.com/daybreakhq/daybreak/internal/circuitbreaker"
	"github.com/daybreakhq/daybreak/internal/config"
	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/dispatch"
	"github.com/daybreakhq/daybreak/internal/engine"
	"github.com/daybreakhq/daybreak/internal/events"
	"github.com/daybreakhq/daybreak/internal/metrics"
	"github.com/daybreakhq/daybreak/internal/notify"
	"github.com/daybreakhq/daybreak/internal/observ"
	"github.com/daybreakhq/daybreak/internal/push"
	"github.com/daybreakhq/daybreak/internal/redis"
	"github.com/daybreakhq/daybreak/internal/sched"
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

	logger.Info("starting daybreak server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
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

	// Redis backs the dispatch claim guard and the push throttle. The
	// dispatch cycle cannot run safely without the claim guard, so Redis
	// is required here, unlike the API rate limiter which fails open.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	claims := redis.NewClaimService(redisClient, redis.DefaultClaimTTL, logger)

	var throttle *redis.PushThrottle
	if cfg.PushThrottlePerUser > 0 {
		throttle = redis.NewPushThrottle(redisClient, logger, redis.ThrottleConfig{
			Limit:  cfg.PushThrottlePerUser,
			Window: cfg.PushThrottleWindow,
		})
	}

	apiLimiter := redis.NewPushThrottle(redisClient, logger, redis.ThrottleConfig{
		Limit:     100,
		Window:    time.Minute,
		KeyPrefix: "ratelimit:api:",
	})

	// Delivery senders, one per target kind.
	var senders []push.Sender

	snsSender, err := push.NewSNSSender(ctx, push.SNSConfig{Region: cfg.SNSRegion}, logger)
	if err != nil {
		logger.Warn("sns sender unavailable, mobile push disabled", zap.Error(err))
	} else {
		senders = append(senders, snsSender)
	}

	if cfg.PushGatewayURL != "" {
		webhookSender := push.NewWebhookSender(push.WebhookConfig{
			GatewayURL: cfg.PushGatewayURL,
			Timeout:    cfg.PushGatewayTimeout,
		}, logger)
		senders = append(senders, webhookSender)
	}

	sesSender, err := push.NewSESSender(ctx, push.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("ses sender unavailable, email targets disabled", zap.Error(err))
	} else {
		senders = append(senders, sesSender)
	}

	if len(senders) == 0 {
		logger.Warn("no delivery channels configured, using log sender")
		senders = append(senders, push.NewLogSender(logger))
	}

	// One breaker over the whole routed sender: a flapping channel stops
	// burning cycles while the claim guard keeps its notifications pending.
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            "delivery",
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}, logger)
	sender := circuitbreaker.NewProtectedSender(push.NewMultiSender(senders...), breaker, logger)

	// Optional delivery-event stream.
	var producer *events.Producer
	if cfg.EventQueueURL != "" {
		producer, err = events.NewProducer(ctx, events.Config{
			Region:   cfg.EventRegion,
			QueueURL: cfg.EventQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("event producer unavailable, delivery events disabled", zap.Error(err))
			producer = nil
		}
	}

	var throttleIface dispatch.Throttle
	if throttle != nil {
		throttleIface = throttle
	}
	var eventsIface dispatch.Events
	if producer != nil {
		eventsIface = producer
	}

	cycle := dispatch.New(repo, sender, claims, throttleIface, eventsIface, dispatch.Config{
		BatchSize:   cfg.DispatchBatchSize,
		Concurrency: cfg.DispatchConcurrency,
		PushTimeout: cfg.PushTimeout,
	}, logger)

	// Optional proactive engine.
	var eng sched.Engine
	if cfg.EngineEnabled {
		client, err := engine.NewClient(engine.Config{
			APIKey:  cfg.EngineAPIKey,
			Model:   cfg.EngineModel,
			BaseURL: cfg.EngineBaseURL,
		}, logger)
		if err != nil {
			logger.Warn("engine unavailable, briefings fall back to static text", zap.Error(err))
		} else {
			eng = client
		}
	}

	notifier := notify.NewScheduler(repo, logger)

	scheduler := sched.New(repo, notifier, cycle, eng, sched.Config{
		TickInterval:      cfg.TickInterval,
		DispatchInterval:  cfg.DispatchInterval,
		ProactiveInterval: cfg.ProactiveInterval,
		RescheduleHourUTC: cfg.RescheduleHourUTC,
		JobTimeout:        cfg.JobTimeout,
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	if err := scheduler.Start(schedCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
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

	handler := api.NewHandler(logger, repo, notifier, scheduler)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(apiLimiter, logger, api.UserKeyFunc))

		r.Post("/schedules/briefing", handler.ScheduleBriefing)
		r.Post("/schedules/habit-reminder", handler.ScheduleHabitReminder)
		r.Post("/schedules/task-reminder", handler.ScheduleTaskReminder)

		r.Get("/notifications", handler.ListNotifications)
		r.Get("/notifications/{id}", handler.GetNotification)
		r.Patch("/notifications/{id}/read", handler.MarkRead)
		r.Patch("/notifications/{id}/dismiss", handler.Dismiss)

		r.Put("/targets", handler.RegisterTarget)
		r.Get("/nudges", handler.ListNudges)
		r.Post("/users/{id}/reschedule", handler.RescheduleUser)
	})

	r.Get("/healthz", handler.Health)

	// Prometheus metrics endpoint
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

		// Give outstanding requests and in-flight jobs 10 seconds to drain.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		if err := scheduler.Shutdown(ctx); err != nil {
			logger.Warn("scheduler shutdown timed out", zap.Error(err))
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
