// Package db holds the shared PostgreSQL helpers: COPY bulk loads and
// temp-table upserts, written against a narrow Pool interface.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY
// protocol, the fastest path for persisting checkpoint and fused batches.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}

	return n, nil
}
