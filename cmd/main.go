package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/auth"
	"github.com/qrsafety/backend/internal/cache"
	"github.com/qrsafety/backend/internal/config"
	"github.com/qrsafety/backend/internal/guest"
	"github.com/qrsafety/backend/internal/handlers"
	"github.com/qrsafety/backend/internal/localstore"
	"github.com/qrsafety/backend/internal/logger"
	"github.com/qrsafety/backend/internal/middlewares"
	"github.com/qrsafety/backend/internal/remote"
	"github.com/qrsafety/backend/internal/services"
	"github.com/qrsafety/backend/internal/syncer"
)

const maxRequestSize = 1 << 20 // 1MB

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Open the local persistent store
	db, err := openLocalDB(cfg.LocalStore.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(db); err != nil {
		logger.Logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize token generator
	tokens := auth.NewTokenGenerator(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.GuestTokenExpiry)

	// Build the three tiers and the synchronizer on top of them
	memory := cache.NewMemory(cfg.Cache.MaxEntries)
	local := localstore.New(db, logger.Logger, cfg.LocalStore.MaxValueBytes, cfg.LocalStore.MaxTotalBytes)
	remoteClient := remote.NewClient(cfg.Remote, logger.Logger)
	sync := syncer.New(memory, local, logger.Logger)
	guests := guest.NewBridge(local, remoteClient, logger.Logger)

	// Initialize services
	desc := services.NewDescriptors(cfg.Cache)
	courseService := services.NewCourseService(sync, remoteClient, desc, logger.Logger)
	enrollmentService := services.NewEnrollmentService(sync, remoteClient, guests, desc, logger.Logger)
	progressService := services.NewProgressService(sync, remoteClient, guests, enrollmentService, desc, logger.Logger)
	certificateService := services.NewCertificateService(sync, remoteClient, desc, logger.Logger)
	statsService := services.NewStatsService(sync, enrollmentService, progressService, certificateService, courseService, desc, logger.Logger)
	migrationService := services.NewMigrationService(sync, guests, desc, logger.Logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(tokens, cfg.JWT.ExchangeKey, logger.Logger)
	coursesHandler := handlers.NewCoursesHandler(courseService, logger.Logger)
	enrollmentsHandler := handlers.NewEnrollmentsHandler(enrollmentService, logger.Logger)
	progressHandler := handlers.NewProgressHandler(progressService, logger.Logger)
	certificatesHandler := handlers.NewCertificatesHandler(certificateService, logger.Logger)
	statsHandler := handlers.NewStatsHandler(statsService, logger.Logger)
	migrationsHandler := handlers.NewMigrationsHandler(migrationService, tokens, logger.Logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middlewares.RequestIDMiddleware)
	r.Use(middlewares.LoggerMiddleware(logger.Logger))
	r.Use(middlewares.RecoveryMiddleware(logger.Logger))
	r.Use(middlewares.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(middlewares.RequestSizeLimitMiddleware(maxRequestSize))
	r.Use(auth.ActorMiddleware(tokens))

	// Register routes
	authHandler.RegisterRoutes(r)
	coursesHandler.RegisterRoutes(r)
	enrollmentsHandler.RegisterRoutes(r)
	progressHandler.RegisterRoutes(r)
	certificatesHandler.RegisterRoutes(r)
	statsHandler.RegisterRoutes(r)
	migrationsHandler.RegisterRoutes(r)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Logger.Info("Server exited")
}

// openLocalDB opens the sqlite database backing the local store tier
func openLocalDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writes, a single connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Get the working directory or use migrations folder relative to the binary
	migrationPath := "file://migrations"
	if _, err := os.Stat("migrations"); os.IsNotExist(err) {
		// Try parent directory if running from cmd
		if _, err := os.Stat("../migrations"); err == nil {
			migrationPath = "file://../migrations"
		}
	}

	m, err := migrate.NewWithDatabaseInstance(migrationPath, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
