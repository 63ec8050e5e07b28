package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/handlers"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.SetConfigType("env")
	viper.AutomaticEnv() // allow environment variables to override .env
	config.BindEnv()

	log := logger.NewJSON(os.Stdout, viper.GetString("log.level"))

	if err := viper.ReadInConfig(); err != nil {
		log.Info().Err(err).Msg("config file not found, using environment and defaults")
	}

	ledgerCfg := config.LoadLedgerConfig()
	argon2Params := config.LoadArgon2Params()
	jwtSecret := viper.GetString("jwt.secret_key")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET_KEY must be set")
	}
	viper.SetDefault("jwt.expiry_hours", 24)
	jwtExpiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := database.InitDB(ctx, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient := database.InitRedis(ctx, log)
	cancel()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		grants services.GrantStore
		jobs   services.JobStore
	)
	if redisClient != nil {
		grants = services.NewRedisGrantStore(redisClient)
		jobs = services.NewRedisJobStore(redisClient, ledgerCfg.ImportStatusTTL)
	} else {
		log.Warn().Msg("step-up grants and import status kept in memory")
		grants = services.NewMemoryGrantStore()
		jobs = services.NewMemoryJobStore()
	}

	store := repository.NewPostgresStore(db)
	auditLog := audit.NewLogger(log)

	authService := services.NewAuthService(store, argon2Params, jwtSecret, jwtExpiry, log)
	ledgerService := services.NewLedgerService(store, ledgerCfg, grants, auditLog, log)
	stepUpService := services.NewStepUpService(store, grants, argon2Params, ledgerCfg.GrantTTL, log)
	importService := services.NewImportService(store, ledgerCfg, auditLog, log)
	importRunner := services.NewImportRunner(importService, jobs, auditLog, log)

	router := handlers.NewRouter(handlers.Handlers{
		Auth:    handlers.NewAuthHandler(authService, log),
		Ledger:  handlers.NewLedgerHandler(ledgerService, log),
		StepUp:  handlers.NewStepUpHandler(stepUpService, ledgerService.Policy(), log),
		Imports: handlers.NewImportHandler(importRunner, ledgerCfg.MaxUploadBytes, log),
		Health:  handlers.NewHealthHandler(db, redisClient),
	}, log, handlers.RouterOptions{})

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// let running imports finish their commit loop; each is bounded by the import timeout
	importRunner.Wait()
	log.Info().Msg("server stopped")
}
