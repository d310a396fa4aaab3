package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/webpmill/webpmill/internal/config"
	"github.com/webpmill/webpmill/internal/derive"
	"github.com/webpmill/webpmill/internal/storage"
	"github.com/webpmill/webpmill/internal/store"
	"github.com/webpmill/webpmill/internal/telemetry"
	"github.com/webpmill/webpmill/internal/transcode"
	"github.com/webpmill/webpmill/internal/webhook"
	"github.com/webpmill/webpmill/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "webpmill-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := transcode.Startup(); err != nil {
		logger.Fatalf("transcoder startup failed: %v", err)
	}
	defer transcode.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}

	if cfg.Storage.EnsureBucket != "" {
		if err := storageClient.EnsureBucket(ctx, cfg.Storage.EnsureBucket); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
	}

	transcoder, err := transcode.New(transcode.Config{Quality: cfg.Derive.Quality})
	if err != nil {
		logger.Fatalf("transcoder setup failed: %v", err)
	}

	orchestrator, err := derive.NewOrchestrator(logger, storageClient, transcoder, cfg.Derive.TargetWidths, cfg.Derive.MaxWidth)
	if err != nil {
		logger.Fatalf("orchestrator setup failed: %v", err)
	}

	var runStore store.RunStore = store.NewMemoryRunStore()
	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresRunStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("run store setup failed: %v", err)
		}
		defer pgStore.Close()
		runStore = pgStore
	}

	var webhookClient *webhook.Client
	if cfg.Webhook.URL != "" {
		webhookClient = webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     10 * time.Second,
		})
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Webhook, orchestrator, webhookClient, runStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", srv.MetricsHandler())
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_invokes=%d queue=%s redis=%s widths=%v max_width=%d",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveInvokes,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Derive.TargetWidths,
		cfg.Derive.MaxWidth,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
