package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/cryptox"
	"github.com/photosync/cloudsync/internal/handlers"
	custommw "github.com/photosync/cloudsync/internal/middleware"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/provider"
	"github.com/photosync/cloudsync/internal/repository"
	"github.com/photosync/cloudsync/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("cloudsync-server", "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			observability.Errorf("Telemetry shutdown failed: %v", err)
		}
	}()

	// Initialize database and repositories
	var (
		connectionRepo repository.ConnectionRepo
		rootFolderRepo repository.RootFolderRepo
		mappingRepo    repository.FolderMappingRepo
		syncStateRepo  repository.SyncStateRepo
		photoRepo      repository.PhotoRepo
		auditRepo      repository.AuditLogRepo
	)
	if cfg.UsePostgres() {
		observability.Info("Using PostgreSQL database")
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer db.Close()
		connectionRepo = repository.NewConnectionRepositoryPostgres(db)
		rootFolderRepo = repository.NewRootFolderRepositoryPostgres(db)
		mappingRepo = repository.NewFolderMappingRepositoryPostgres(db)
		syncStateRepo = repository.NewSyncStateRepositoryPostgres(db)
		photoRepo = repository.NewPhotoRepositoryPostgres(db)
		auditRepo = repository.NewAuditLogRepositoryPostgres(db)
	} else {
		observability.Info("Using SQLite database")
		db, err := repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer db.Close()
		connectionRepo = repository.NewConnectionRepository(db)
		rootFolderRepo = repository.NewRootFolderRepository(db)
		mappingRepo = repository.NewFolderMappingRepository(db)
		syncStateRepo = repository.NewSyncStateRepository(db)
		photoRepo = repository.NewPhotoRepository(db)
		auditRepo = repository.NewAuditLogRepository(db)
	}

	// Token encryption at rest
	cipher, err := cryptox.New(cfg.Security.EncryptionKey, cfg.Security.EncryptionSalt)
	if err != nil {
		log.Fatalf("Failed to initialize token encryption: %v", err)
	}

	// Initialize services
	registry := provider.NewRegistry(cfg.Providers)
	limiter := services.NewRateLimiter(cfg)
	defer limiter.Stop()

	auditService := services.NewAuditService(auditRepo)
	tokenManager := services.NewTokenManager(connectionRepo, registry, cipher, limiter, auditService)
	folderManager := services.NewFolderManager(rootFolderRepo, mappingRepo, tokenManager, limiter)
	defer folderManager.Close()

	contentCache := services.NewTTLCache(15 * time.Minute)
	defer contentCache.Stop()

	exifService := services.NewEXIFService()
	uploadService := services.NewUploadService(photoRepo, folderManager, tokenManager, limiter, exifService, auditService, contentCache)
	syncService := services.NewSyncService(connectionRepo, syncStateRepo, photoRepo, folderManager, tokenManager, limiter, auditService, contentCache)

	// WebSocket hub for live sync updates
	hub := services.NewWebSocketHub()
	go hub.Run()
	syncService.SetWebSocketHub(hub)

	// Recurring sync sweep
	scheduler, err := services.NewSyncScheduler(cfg.Sync.Schedule, syncService)
	if err != nil {
		log.Fatalf("Failed to initialize sync scheduler: %v", err)
	}
	if cfg.Sync.AutoStart {
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	connectionHandler := handlers.NewConnectionHandler(tokenManager, connectionRepo, limiter, cfg)
	syncHandler := handlers.NewSyncHandler(syncService, scheduler)
	photoHandler := handlers.NewPhotoHandler(photoRepo, uploadService)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware("cloudsync-server"))
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	} else {
		observability.Errorf("Failed to initialize HTTP metrics: %v", err)
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)

	r.Route("/api/connections", func(r chi.Router) {
		r.Post("/", connectionHandler.Connect)
		r.Get("/", connectionHandler.List)
		r.Get("/{userId}/{provider}", connectionHandler.Get)
		r.Delete("/{userId}/{provider}", connectionHandler.Disconnect)
		r.Get("/{userId}/{provider}/usage", connectionHandler.Usage)
	})

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/", syncHandler.TriggerSweep)
		r.Get("/status", syncHandler.Status)
		r.Post("/{userId}/{provider}", syncHandler.SyncUser)
	})

	r.Route("/api/photos", func(r chi.Router) {
		r.Post("/upload", photoHandler.Upload)
		r.Get("/{id}", photoHandler.Get)
		r.Get("/{id}/url", photoHandler.FileURL)
		r.Delete("/{id}", photoHandler.Delete)
	})

	r.Get("/ws", wsHandler.HandleConnection)

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for uploads
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Infof("CloudSync server starting on %s", cfg.ServerAddress)
		if cfg.Sync.AutoStart {
			observability.Infof("Sync sweep scheduled: %s (next run %s)", cfg.Sync.Schedule, scheduler.NextRun().Format(time.RFC3339))
		}

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	observability.Info("Server stopped")
}
