package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the fusion pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Checkpoints hold a run's normalized batch, written before fusion so a
	// later run can re-fuse with different settings without re-reading the
	// source directories. Saving replaces any previous checkpoint for the run.
	SaveCheckpoint(ctx context.Context, runID string, records []model.NormalizedRecord) error
	LoadCheckpoint(ctx context.Context, runID string) ([]model.NormalizedRecord, error)
	DeleteCheckpoint(ctx context.Context, runID string) error

	// Fused output, keyed by (run, spatial, temporal). Re-saving upserts.
	SaveFused(ctx context.Context, runID string, records []model.FusedRecord) error
	ListFused(ctx context.Context, runID string) ([]model.FusedRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs and migrates a Store for the configured driver. The pool
// settings apply to postgres only.
func Open(ctx context.Context, driver, dsn string, pool *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
