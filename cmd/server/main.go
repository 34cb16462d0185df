package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"lingochat/internal/auth"
	"lingochat/internal/chat"
	"lingochat/internal/config"
	"lingochat/internal/httpx"
	"lingochat/internal/logging"
	"lingochat/internal/metrics"
	myMiddleware "lingochat/internal/middleware"
	"lingochat/internal/otp"
	"lingochat/internal/realtime"
	"lingochat/internal/store"
	"lingochat/internal/store/memory"
	"lingochat/internal/store/postgres"
	"lingochat/internal/token"
	"lingochat/internal/translation"
	"lingochat/internal/user"
)

const serviceName = "lingochat"

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the Store (Platform Layer)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("❌ Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// 3. Connect to Redis (optional, for fanout across instances)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("❌ Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("✅ Connected to Redis", "addr", cfg.RedisAddr)
	}

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry, serviceName)

	// 5. Translation
	translator, err := newTranslator(cfg, logger)
	if err != nil {
		logger.Error("❌ Failed to build translation service", "error", err)
		os.Exit(1)
	}

	// 6. Auth Feature
	tokens := token.NewService(cfg.JWTSecret, cfg.JWTExpiresIn, st.Users)
	otpService := otp.NewService(st.Otps, logger, cfg.IsDevelopment())
	authService := auth.NewService(st.Users, otpService, tokens, logger, cfg.IsDevelopment())
	authHandler := auth.NewHandler(authService, logger)
	authMiddleware := myMiddleware.NewAuthMiddleware(tokens, logger)

	// 7. User Feature
	userHandler := user.NewHandler(user.NewService(st.Users), logger)

	// 8. Chat Feature + Realtime Hub
	sessions := realtime.NewRegistry()
	otpSessions := realtime.NewOTPRegistry()
	chatBroker, otpBroker, err := newBrokers(ctx, redisClient, sessions, otpSessions, logger)
	if err != nil {
		logger.Error("❌ Failed to subscribe to Redis", "error", err)
		os.Exit(1)
	}

	messageService := chat.NewMessageService(st, translator, cfg.InlineTranslateWait, logger)
	messageService.SetPresence(sessions)
	conversationService := chat.NewConversationService(st)

	refiner := realtime.NewExecutor(cfg.RefineWorkers, cfg.RefineQueue, logger)
	refiner.Start()

	hub := realtime.NewHub(sessions, chatBroker, messageService, st.Users, translator, refiner, realtime.HubConfig{
		InlineWait: cfg.InlineTranslateWait,
		RefineWait: cfg.RefineTranslateWait,
	}, logger)
	otpGateway := realtime.NewOTPGateway(otpSessions, otpBroker, otpService, logger)
	otpService.SetNotifier(otpGateway)

	chatHandler := chat.NewHandler(messageService, conversationService, hub, logger)
	wsHandler := realtime.NewHandler(hub, otpGateway, tokens, cfg.CORSOrigins, logger)

	go otpService.RunSweeper(ctx, cfg.OTPCleanupInterval)

	// 9. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(myMiddleware.WithMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public Routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.HTTPRateLimit, time.Minute))
		authHandler.Routes(r)
	})

	// WebSocket (Real-time). /ws/chat authenticates its own handshake.
	r.Get("/ws/chat", wsHandler.ServeChat)
	r.Get("/ws/otp", wsHandler.ServeOTP)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Route("/users", userHandler.Routes)
		r.Route("/conversations", chatHandler.Routes)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 Server starting", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	refiner.Stop(shutdownCtx)
	logger.Info("✅ Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("⚠️ DATABASE_URL not set, using in-memory store")
		return memory.New(), nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("✅ Connected to PostgreSQL")
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("✅ Database Schema Initialized")
	return postgres.New(db), nil
}

// newTranslator builds the provider waterfall: Google, then LibreTranslate,
// then the built-in phrasebook.
func newTranslator(cfg *config.Config, logger *slog.Logger) (*translation.Service, error) {
	client := &http.Client{Timeout: cfg.RefineTranslateWait}
	var providers []translation.Provider
	if cfg.GoogleTranslateAPIKey != "" {
		providers = append(providers, translation.NewGoogle(client, cfg.GoogleTranslateAPIKey))
	}
	if cfg.LibreTranslateURL != "" {
		providers = append(providers, translation.NewLibre(client, cfg.LibreTranslateURL, cfg.LibreTranslateAPIKey))
	}
	providers = append(providers, translation.NewDictionary(cfg.IsDevelopment()))
	if len(providers) == 1 {
		logger.Warn("⚠️ No translation API configured, using the built-in phrasebook")
	}

	return translation.NewService(translation.Config{
		CacheSize:     cfg.TranslationCacheSize,
		FlightTimeout: cfg.RefineTranslateWait,
		MaxRetries:    2,
		RetryBase:     100 * time.Millisecond,
	}, logger, providers...)
}

// newBrokers picks Redis pub/sub when configured, otherwise in-process delivery.
func newBrokers(ctx context.Context, client *redis.Client, chatSessions, otpSessions *realtime.Registry, logger *slog.Logger) (realtime.Broker, realtime.Broker, error) {
	if client == nil {
		return realtime.NewLocalBroker(chatSessions), realtime.NewLocalBroker(otpSessions), nil
	}
	chatBroker := realtime.NewRedisBroker(client, serviceName+":chat", chatSessions, logger)
	otpBroker := realtime.NewRedisBroker(client, serviceName+":otp", otpSessions, logger)
	if err := chatBroker.Subscribe(ctx); err != nil {
		return nil, nil, err
	}
	if err := otpBroker.Subscribe(ctx); err != nil {
		return nil, nil, err
	}
	return chatBroker, otpBroker, nil
}
