package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/config"
	"github.com/prospectiq/credit-server-go/internal/database"
	"github.com/prospectiq/credit-server-go/internal/handler"
	"github.com/prospectiq/credit-server-go/internal/jobs"
	"github.com/prospectiq/credit-server-go/internal/middleware"
	"github.com/prospectiq/credit-server-go/internal/provider"
	"github.com/prospectiq/credit-server-go/internal/redis"
	"github.com/prospectiq/credit-server-go/internal/repository"
	"github.com/prospectiq/credit-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	// Without Redis the sliding windows live in process; fine for one
	// instance, advisory only beyond that.
	var limiter service.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
		limiter = service.NewRedisRateLimiter(redisClient.Client)
	} else {
		log.Warn().Msg("REDIS_URL not set, using in-memory rate limiter")
		limiter = service.NewMemoryRateLimiter()
	}

	accountRepo := repository.NewAccountRepository(db.DB)
	balanceRepo := repository.NewBalanceRepository(db.DB)
	ledgerRepo := repository.NewLedgerRepository(db.DB)
	grantRepo := repository.NewGrantRepository(db.DB)

	creditService := service.NewCreditService(db, balanceRepo, ledgerRepo, grantRepo)
	accountService := service.NewAccountService(accountRepo, creditService)
	sweeperService := service.NewSweeperService(db, balanceRepo, ledgerRepo, grantRepo)
	registry := provider.BuildRegistry(cfg.ProviderBaseURL, cfg.ProviderTimeout())
	gateway := service.NewGateway(limiter, creditService, registry)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter)
	adminMiddleware := middleware.NewAdminMiddleware(cfg.AdminTokenHash)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	creditsHandler := handler.NewCreditsHandler(creditService)
	gatewayHandler := handler.NewGatewayHandler(gateway)
	adminHandler := handler.NewAdminHandler(accountService, creditService)
	jobsHandler := handler.NewJobsHandler(sweeperService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Admin-Token", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/credits", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", creditsHandler.Routes())
	})

	r.Route("/v1/services", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", gatewayHandler.Routes())
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(adminMiddleware.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(adminMiddleware.Handler)
		r.Mount("/", jobsHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(func(ctx context.Context) error {
		_, err := sweeperService.SweepExpired(ctx)
		return err
	}, cfg.SweepInterval())
	sweepJob.Start()
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
