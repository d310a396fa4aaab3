package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/webpmill/webpmill/internal/config"
	"github.com/webpmill/webpmill/internal/derive"
	"github.com/webpmill/webpmill/internal/domain"
	"github.com/webpmill/webpmill/internal/id"
	"github.com/webpmill/webpmill/internal/keys"
	"github.com/webpmill/webpmill/internal/queue"
	"github.com/webpmill/webpmill/internal/store"
	"github.com/webpmill/webpmill/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	runner        derivativeRunner
	webhookClient webhookSender
	webhookURL    string
	runStore      store.RunStore
	metrics       *metrics
	tracer        trace.Tracer
}

type derivativeRunner interface {
	Run(ctx context.Context, bucket, key string) (domain.Report, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	webhookCfg config.WebhookConfig,
	orchestrator *derive.Orchestrator,
	webhookClient *webhook.Client,
	runStore store.RunStore,
) (*Server, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveInvokes)),
		runner:        orchestrator,
		webhookClient: webhookClient,
		webhookURL:    webhookCfg.URL,
		runStore:      runStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("webpmill/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDeriveObject, s.handleDeriveObject)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleDeriveObject is one pipeline invocation. Benign skips and
// normal completion return nil; only the fatal conditions surfaced by
// the orchestrator return an error, which hands the event to asynq's
// retry policy.
func (s *Server) handleDeriveObject(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.RunStatusFailed

	payload, err := queue.ParseDeriveObjectPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.derive_object", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("derive.bucket", payload.Bucket),
		attribute.String("derive.raw_key", payload.Key),
	)
	defer span.End()
	defer func() {
		s.metrics.invocationDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.invocationsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeInvocations.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeInvocations.Dec()
	}()

	key := keys.DecodeKey(payload.Key)
	if payload.Bucket == "" || key == "" {
		s.logger.Printf("unsupported event payload bucket=%q raw_key=%q", payload.Bucket, payload.Key)
		outcome = domain.RunStatusSkipped
		span.SetStatus(codes.Ok, "unsupported payload")
		return nil
	}

	runID := payload.RunID
	if runID == "" {
		runID = id.New()
	}
	s.createRun(ctx, runID, payload.Bucket, key)

	s.logger.Printf("Working... run_id=%s bucket=%s key=%s", runID, payload.Bucket, key)

	report, err := s.runner.Run(ctx, payload.Bucket, key)
	if err != nil {
		s.finishRun(ctx, runID, domain.RunStatusFailed, report)
		span.RecordError(err)
		span.SetStatus(codes.Error, "derivative pipeline failed")
		s.dispatchWebhook(ctx, "derive.failed", map[string]any{
			"run_id":       runID,
			"status":       domain.RunStatusFailed,
			"bucket":       payload.Bucket,
			"key":          key,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"targets":      report.Targets,
			"error":        err.Error(),
		})
		return fmt.Errorf("derive object %s/%s: %w", payload.Bucket, key, err)
	}

	runStatus := domain.RunStatusCompleted
	if report.Skipped() {
		runStatus = domain.RunStatusSkipped
		s.logger.Printf("Skipped run_id=%s bucket=%s key=%s reason=%s", runID, payload.Bucket, key, report.SkipReason)
	} else {
		written := report.CountByStatus(domain.StatusWritten)
		skipped := report.CountByStatus(domain.StatusSkippedExists)
		failed := report.CountByStatus(domain.StatusFailed)
		s.logger.Printf(
			"Successfully processed image run_id=%s bucket=%s key=%s written=%d skipped=%d failed=%d",
			runID, payload.Bucket, key, written, skipped, failed,
		)
	}

	s.recordTargets(report)
	s.finishRun(ctx, runID, runStatus, report)

	if err := s.dispatchWebhook(ctx, "derive.completed", map[string]any{
		"run_id":       runID,
		"status":       runStatus,
		"bucket":       payload.Bucket,
		"key":          key,
		"skip_reason":  report.SkipReason,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"targets":      report.Targets,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = runStatus
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) recordTargets(report domain.Report) {
	for _, target := range report.Targets {
		s.metrics.derivativesTotal.WithLabelValues(target.Status).Inc()
		if target.Status == domain.StatusWritten {
			s.metrics.derivativeBytesTotal.Add(float64(target.Bytes))
		}
	}
}

func (s *Server) createRun(ctx context.Context, runID, bucket, key string) {
	if s.runStore == nil {
		return
	}
	now := time.Now().UTC()
	if err := s.runStore.Create(ctx, domain.Run{
		ID:        runID,
		Bucket:    bucket,
		ObjectKey: key,
		Status:    domain.RunStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Printf("run record create failed run_id=%s err=%v", runID, err)
	}
}

func (s *Server) finishRun(ctx context.Context, runID, status string, report domain.Report) {
	if s.runStore == nil {
		return
	}
	if _, err := s.runStore.Finish(ctx, runID, status, report.SkipReason, report.Targets); err != nil {
		s.logger.Printf("run record update failed run_id=%s status=%s err=%v", runID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, event string, body map[string]any) error {
	if s.webhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, s.webhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed event=%s err=%v", event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
