package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq    INTEGER NOT NULL,
	record TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS fused_records (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	spatial_key  TEXT NOT NULL,
	tier         TEXT NOT NULL,
	temporal_key TEXT NOT NULL,
	granularity  TEXT NOT NULL,
	record       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, spatial_key, tier, temporal_key, granularity)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_fused_spatial ON fused_records(spatial_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, summary, error, started_at, completed_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, summary, error, started_at, completed_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, records []model.NormalizedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin checkpoint tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear checkpoint %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO checkpoints (run_id, seq, record) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare checkpoint insert")
	}
	defer stmt.Close()

	for i, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal checkpoint record %d", i)
		}
		if _, err := stmt.ExecContext(ctx, runID, i, string(recJSON)); err != nil {
			return eris.Wrapf(err, "sqlite: insert checkpoint record %d", i)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit checkpoint %s", runID)
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) ([]model.NormalizedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM checkpoints WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", runID)
	}
	defer rows.Close()

	var records []model.NormalizedRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint record")
		}
		var rec model.NormalizedRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: load checkpoint iterate")
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", runID)
}

func (s *SQLiteStore) SaveFused(ctx context.Context, runID string, records []model.FusedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin fused tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fused_records (run_id, spatial_key, tier, temporal_key, granularity, record)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, spatial_key, tier, temporal_key, granularity)
		 DO UPDATE SET record = excluded.record`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare fused insert")
	}
	defer stmt.Close()

	for i, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal fused record %d", i)
		}
		_, err = stmt.ExecContext(ctx,
			runID, rec.Spatial.Code, rec.Spatial.Tier.String(),
			rec.Temporal.String(), rec.Temporal.Gran.String(), string(recJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert fused record %s/%s", rec.Spatial.Code, rec.Temporal)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit fused %s", runID)
}

func (s *SQLiteStore) ListFused(ctx context.Context, runID string) ([]model.FusedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM fused_records WHERE run_id = ? ORDER BY spatial_key, tier, temporal_key, granularity`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list fused %s", runID)
	}
	defer rows.Close()

	var records []model.FusedRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fused record")
		}
		var rec model.FusedRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal fused record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list fused iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &summaryJSON, &errMsg, &r.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
