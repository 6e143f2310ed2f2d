package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "checkpoints", []string{"run_id", "record"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"checkpoints"}, []string{"run_id", "record"}).WillReturnResult(3)

	rows := [][]any{{"r1", "{}"}, {"r1", "{}"}, {"r1", "{}"}}
	n, err := CopyFrom(context.Background(), mock, "checkpoints", []string{"run_id", "record"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"checkpoints"}, []string{"run_id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "checkpoints", []string{"run_id"}, [][]any{{"r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO checkpoints")
	assert.NoError(t, mock.ExpectationsWereMet())
}
