package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notebook-ops/nbrunner/api/rest/server"
	"github.com/notebook-ops/nbrunner/api/rest/v1/routes"
	"github.com/notebook-ops/nbrunner/internal/config"
	"github.com/notebook-ops/nbrunner/internal/database"
	"github.com/notebook-ops/nbrunner/internal/engine"
	"github.com/notebook-ops/nbrunner/internal/progress"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/services"
	"github.com/notebook-ops/nbrunner/internal/storage"
)

func main() {
	cfg := config.GetConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	templateStore, err := storage.NewS3Store(storage.S3Config{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		BucketName:      cfg.S3Bucket,
		Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Failed to initialize template store: %v", err)
	}

	tracker := progress.NewRedisTracker(cfg.RedisAddr)
	executions := repository.NewExecutionRepository(db)
	templatesMeta := repository.NewTemplateRepository(db)

	orchestrator := services.NewOrchestrator(
		templateStore,
		executions,
		engine.NewHTTPEngine(cfg.EngineBaseURL),
		tracker,
		logger,
		services.Options{
			Workers:          cfg.Workers,
			QueueSize:        cfg.QueueSize,
			FirstCellTimeout: cfg.FirstCellTimeout,
			WorkDir:          cfg.WorkDir,
			DefaultKernel:    cfg.DefaultKernel,
		},
	)
	templates := services.NewTemplateService(templateStore, templatesMeta, logger)

	srv := server.NewServer(cfg.ListenAddr)
	routes.RegisterRoutes(srv, orchestrator, templates)

	go func() {
		log.Printf("Starting Gin HTTP server on %s", cfg.ListenAddr)
		if err := srv.Run(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := orchestrator.Shutdown(ctx); err != nil {
		log.Printf("Orchestrator shutdown: %v", err)
	}
}
