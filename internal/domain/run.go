package domain

import "time"

const (
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusSkipped    = "skipped"
	RunStatusFailed     = "failed"
)

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID         string
	Bucket     string
	ObjectKey  string
	Status     string
	SkipReason string
	Targets    []TargetResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
