package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/db"
	"github.com/climatehealth/fusion-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":      `INSERT INTO runs (id, status, started_at) VALUES ($1, $2, $3)`,
	"complete_run":    `UPDATE runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
	"fail_run":        `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
	"get_run":         `SELECT id, status, summary, error, started_at, completed_at FROM runs WHERE id = $1`,
	"load_checkpoint": `SELECT record FROM checkpoints WHERE run_id = $1 ORDER BY seq`,
	"list_fused":      `SELECT record FROM fused_records WHERE run_id = $1 ORDER BY spatial_key, tier, temporal_key, granularity`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq    INTEGER NOT NULL,
	record JSONB NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS fused_records (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	spatial_key  TEXT NOT NULL,
	tier         TEXT NOT NULL,
	temporal_key TEXT NOT NULL,
	granularity  TEXT NOT NULL,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, spatial_key, tier, temporal_key, granularity)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_fused_spatial ON fused_records(spatial_key);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var summaryNull *[]byte
	var errNull *string
	var completedNull *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, summary, error, started_at, completed_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &summaryNull, &errNull, &r.StartedAt, &completedNull)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if summaryNull != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	if errNull != nil {
		r.Error = *errNull
	}
	r.CompletedAt = completedNull
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, summary, error, started_at, completed_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var summaryNull *[]byte
		var errNull *string
		var completedNull *time.Time

		if err := rows.Scan(&r.ID, &r.Status, &summaryNull, &errNull, &r.StartedAt, &completedNull); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if summaryNull != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		if errNull != nil {
			r.Error = *errNull
		}
		r.CompletedAt = completedNull
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveCheckpoint clears the run's previous checkpoint and bulk-loads the new
// one via COPY. A half-written checkpoint heals on the next save because the
// clear always runs first.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, runID string, records []model.NormalizedRecord) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear checkpoint %s", runID)
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal checkpoint record %d", i)
		}
		rows = append(rows, []any{runID, i, recJSON})
	}

	_, err := db.CopyFrom(ctx, s.pool, "checkpoints", []string{"run_id", "seq", "record"}, rows)
	return eris.Wrapf(err, "postgres: save checkpoint %s", runID)
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) ([]model.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM checkpoints WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", runID)
	}
	defer rows.Close()

	var records []model.NormalizedRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint record")
		}
		var rec model.NormalizedRecord
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal checkpoint record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: load checkpoint iterate")
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", runID)
}

// SaveFused upserts the run's fused output through a temp-table COPY, so
// re-running a fusion with the same keys overwrites rather than duplicates.
func (s *PostgresStore) SaveFused(ctx context.Context, runID string, records []model.FusedRecord) error {
	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal fused record %d", i)
		}
		rows = append(rows, []any{
			runID, rec.Spatial.Code, rec.Spatial.Tier.String(),
			rec.Temporal.String(), rec.Temporal.Gran.String(), recJSON,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "fused_records",
		Columns:      []string{"run_id", "spatial_key", "tier", "temporal_key", "granularity", "record"},
		ConflictKeys: []string{"run_id", "spatial_key", "tier", "temporal_key", "granularity"},
	}, rows)
	return eris.Wrapf(err, "postgres: save fused %s", runID)
}

func (s *PostgresStore) ListFused(ctx context.Context, runID string) ([]model.FusedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM fused_records WHERE run_id = $1 ORDER BY spatial_key, tier, temporal_key, granularity`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list fused %s", runID)
	}
	defer rows.Close()

	var records []model.FusedRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fused record")
		}
		var rec model.FusedRecord
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal fused record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list fused iterate")
}
