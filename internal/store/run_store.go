package store

import (
	"context"

	"github.com/webpmill/webpmill/internal/domain"
)

// RunStore persists one record per pipeline invocation for
// observability; the pipeline itself never reads these back.
type RunStore interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, bool, error)
	Finish(ctx context.Context, id, status, skipReason string, targets []domain.TargetResult) (domain.Run, error)
}
