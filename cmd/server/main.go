package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/repository/postgres"
	"github.com/ignite/audience-engine/internal/service/suppression"
	"github.com/ignite/audience-engine/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	if cfg.Tracking.UnsubscribeSecret == "" {
		logger.Warn("UNSUBSCRIBE_SECRET not set, unsubscribe links will be rejected")
	}
	if cfg.Tracking.WebhookToken == "" {
		logger.Warn("WEBHOOK_TOKEN not set, provider webhooks are accepted without a token")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Error("ping database", "error", err)
		os.Exit(1)
	}
	pingCancel()

	contacts := postgres.NewContactRepo(db)
	suppressionSvc := suppression.NewService(postgres.NewSuppressionRepo(db), contacts)
	ingestor := suppression.NewIngestor(suppressionSvc, postgres.NewEventRepo(db), cfg.Tracking.WebhookToken)

	if cfg.Archive.Bucket != "" {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Archive.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Archive.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			logger.Warn("webhook archive disabled, aws config failed", "error", err)
		} else {
			ingestor.WithArchiver(tracking.NewS3Archive(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix))
			logger.Info("webhook archive enabled", "bucket", cfg.Archive.Bucket)
		}
	}

	signer := tracking.NewSigner(cfg.Tracking.UnsubscribeSecret, cfg.Tracking.PublicBaseURL, cfg.Tracking.TokenTTL())
	handler := tracking.NewHandler(signer, suppressionSvc, contacts, ingestor)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.Server.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Webhook-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("public server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down public server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func allowedOrigins(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return []string{"*"}
}
