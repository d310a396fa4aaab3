// Package api exposes the ingest surface: bucket notifications come
// in over HTTP and leave as queued derivative tasks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/webpmill/webpmill/internal/event"
	"github.com/webpmill/webpmill/internal/id"
	"github.com/webpmill/webpmill/internal/queue"
	"github.com/webpmill/webpmill/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	runStore              store.RunStore
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueDeriveObject(ctx context.Context, payload queue.DeriveObjectPayload) (*asynq.TaskInfo, error)
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, runStore store.RunStore, rateLimiter RateLimiter) *Server {
	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		runStore:              runStore,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		tracer:                otel.Tracer("webpmill/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/events", s.handleEvent)
	s.mux.HandleFunc("POST /v1/derive", s.handleDerive)
	s.mux.HandleFunc("GET /v1/runs/", s.handleGetRun)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvent accepts a bucket notification envelope. A payload that
// does not name a bucket and key is acknowledged, not rejected: the
// event source fires for plenty of writes the pipeline does not care
// about.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var n event.Notification
	if err := decodeJSON(r, &n); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := n.Validate(); err != nil {
		if errors.Is(err, event.ErrUnsupportedPayload) {
			s.logger.Printf("unsupported event payload")
			writeJSON(w, http.StatusAccepted, map[string]string{"message": "unsupported event payload"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.enqueue(w, r, n.Detail.Bucket.Name, n.Detail.Object.Key)
}

// handleDerive is a manual trigger carrying the bucket and raw key
// directly, for re-driving a specific object without a notification.
func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bucket string `json:"bucket"`
		Key    string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.Key) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket and key are required"})
		return
	}

	s.enqueue(w, r, req.Bucket, req.Key)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, bucket, rawKey string) {
	payload := queue.DeriveObjectPayload{
		RunID:       id.New(),
		Bucket:      bucket,
		Key:         rawKey,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueDeriveObject(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed bucket=%s key=%s err=%v", bucket, rawKey, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue derivative task"})
		return
	}

	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      payload.RunID,
		"bucket":      bucket,
		"key":         rawKey,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := extractRunID(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if s.runStore == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run store is unavailable"})
		return
	}

	run, ok, err := s.runStore.Get(r.Context(), runID)
	if err != nil {
		s.logger.Printf("fetch run failed run_id=%s err=%v", runID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      run.ID,
		"bucket":      run.Bucket,
		"key":         run.ObjectKey,
		"status":      run.Status,
		"skip_reason": run.SkipReason,
		"targets":     run.Targets,
		"created_at":  run.CreatedAt,
		"updated_at":  run.UpdatedAt,
	})
}

func extractRunID(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/v1/runs/"), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", errors.New("expected path format /v1/runs/{id}")
	}
	return trimmed, nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
