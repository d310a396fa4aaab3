package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeDeriveObject = "derivative:generate"

// DeriveObjectPayload carries one bucket notification from the ingest
// API to the worker. Key is the raw event-provided key; the worker
// decodes it before running the pipeline.
type DeriveObjectPayload struct {
	RunID       string    `json:"run_id"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewDeriveObjectTask(payload DeriveObjectPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal derive payload: %w", err)
	}
	return asynq.NewTask(TypeDeriveObject, body), nil
}

func ParseDeriveObjectPayload(task *asynq.Task) (DeriveObjectPayload, error) {
	var payload DeriveObjectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeriveObjectPayload{}, fmt.Errorf("unmarshal derive payload: %w", err)
	}
	return payload, nil
}
