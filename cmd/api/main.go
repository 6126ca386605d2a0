package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"talwar/internal/booking"
	"talwar/internal/config"
	"talwar/internal/database"
	"talwar/internal/logging"
	"talwar/internal/server"
	"talwar/internal/services"
	"talwar/internal/store/supabase"
)

const (
	shutdownTimeout     = 30 * time.Second
	readTimeout         = 15 * time.Second
	writeTimeout        = 15 * time.Second
	idleTimeout         = 60 * time.Second
	statsReportInterval = 15 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Init(cfg.App.Debug)
	defer func() { _ = log.Sync() }()

	// Validate critical configuration
	if err := validateConfig(cfg); err != nil {
		if !cfg.App.Debug {
			log.Fatal("configuration validation failed", zap.Error(err))
		}
		log.Warn("insecure configuration allowed in debug mode", zap.Error(err))
	}

	log.Info("starting",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.Bool("debug", cfg.App.Debug),
		zap.String("host", cfg.App.Host),
		zap.String("port", cfg.App.Port),
		zap.String("booking_store", cfg.Booking.Store))

	// Initialize database
	db, err := database.Open(cfg.Database, log.Named("database"))
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() {
		log.Info("closing database connections")
		if err := database.Close(db); err != nil {
			log.Error("error closing database", zap.Error(err))
		}
	}()

	store, storePing := openBookingStore(cfg, db, log)

	// Create service instances
	emailSvc := services.NewEmailService(&cfg.Email, log)
	smsSvc := services.NewSMSService(&cfg.SMS, log)
	bookingSvc := services.NewBookingService(store, cfg.Booking, log,
		services.WithNotifier(emailSvc),
		services.WithAcknowledger(smsSvc))
	authSvc := services.NewAuthService(database.NewUserStore(db), cfg.Auth, log)
	healthSvc := services.NewHealthService(cfg.App.Name, cfg.App.Version, map[string]services.Pinger{
		"database": services.PingFunc(func(ctx context.Context) error { return database.HealthCheck(ctx, db) }),
		"store":    storePing,
	}, bookingSvc, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go bookingSvc.RunJanitor(ctx)
	go reportStats(ctx, db, log)

	// Create HTTP server with timeouts
	addr := fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.New(cfg, bookingSvc, authSvc, healthSvc, log),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     zap.NewStdLog(log.Named("http")),
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server failed to start", zap.Error(err))
		return
	case sig := <-shutdown:
		log.Info("starting graceful shutdown", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error during graceful shutdown", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("shutdown timeout exceeded, forcing close")
			_ = httpServer.Close()
		}
	}
	stop()
	if err := bookingSvc.Shutdown(shutdownCtx); err != nil {
		log.Warn("pending booking notifications abandoned", zap.Error(err))
	}

	log.Info("server shutdown complete")
}

// openBookingStore selects where bookings are written. A Supabase store
// with missing settings is not fatal: the form reports it per submission.
func openBookingStore(cfg *config.Config, db *gorm.DB, log *zap.Logger) (booking.Store, services.Pinger) {
	switch cfg.Booking.Store {
	case config.StoreDatabase:
		log.Info("bookings are stored in the application database")
		return database.NewBookingStore(db), services.PingFunc(func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		})
	default:
		if !cfg.Supabase.Configured() {
			log.Warn("SUPABASE_URL or SUPABASE_ANON_KEY missing, booking submissions will report a configuration error")
			return nil, nil
		}
		client, err := supabase.New(cfg.Supabase)
		if err != nil {
			log.Warn("booking store not configured, submissions will fail until it is", zap.Error(err))
			return nil, nil
		}
		log.Info("bookings are stored in Supabase", zap.String("table", client.Table()))
		return client, client
	}
}

// reportStats publishes connection pool statistics until ctx is done
func reportStats(ctx context.Context, db *gorm.DB, log *zap.Logger) {
	ticker := time.NewTicker(statsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := database.ReportStats(db); err != nil {
				log.Debug("failed to report database stats", zap.Error(err))
			}
		}
	}
}

// validateConfig validates critical configuration values
func validateConfig(cfg *config.Config) error {
	if cfg.Auth.SecretKey == "" || cfg.Auth.SecretKey == "your-secret-key-change-in-production" {
		return fmt.Errorf("SECRET_KEY must be set and changed from default value")
	}
	if len(cfg.Auth.SecretKey) < 32 {
		return fmt.Errorf("SECRET_KEY must be at least 32 characters for security")
	}
	return nil
}
