package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/webpmill/webpmill/internal/domain"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS derivative_runs (
	id TEXT PRIMARY KEY,
	bucket TEXT NOT NULL,
	object_key TEXT NOT NULL,
	status TEXT NOT NULL,
	skip_reason TEXT NOT NULL DEFAULT '',
	targets JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure derivative_runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.Run) error {
	targetsJSON, err := marshalTargets(run.Targets)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO derivative_runs (id, bucket, object_key, status, skip_reason, targets, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID,
		run.Bucket,
		run.ObjectKey,
		run.Status,
		run.SkipReason,
		targetsJSON,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.Run, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, bucket, object_key, status, skip_reason, targets, created_at, updated_at
		 FROM derivative_runs
		 WHERE id = $1`,
		id,
	)

	var (
		run         domain.Run
		targetsJSON []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Bucket,
		&run.ObjectKey,
		&run.Status,
		&run.SkipReason,
		&targetsJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Run{}, false, nil
		}
		return domain.Run{}, false, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal(targetsJSON, &run.Targets); err != nil {
		return domain.Run{}, false, fmt.Errorf("unmarshal run targets: %w", err)
	}

	return run, true, nil
}

func (s *PostgresRunStore) Finish(ctx context.Context, id, status, skipReason string, targets []domain.TargetResult) (domain.Run, error) {
	targetsJSON, err := marshalTargets(targets)
	if err != nil {
		return domain.Run{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE derivative_runs
		 SET status = $1, skip_reason = $2, targets = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		skipReason,
		targetsJSON,
		now,
		id,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("update run: %w", err)
	}

	run, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}

	return run, nil
}

func marshalTargets(targets []domain.TargetResult) ([]byte, error) {
	if targets == nil {
		targets = []domain.TargetResult{}
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return nil, fmt.Errorf("marshal run targets: %w", err)
	}
	return data, nil
}
