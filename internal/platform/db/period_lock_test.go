package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestEnsurePeriodLockRow(t *testing.T) {
	exec := &recordingExecer{}
	require.NoError(t, EnsurePeriodLockRow(context.Background(), exec, 42))
	require.Equal(t, EnsurePeriodLockSQL, exec.sql)
	require.Equal(t, []any{int64(42)}, exec.args)
	require.Contains(t, exec.sql, "ON CONFLICT (tenant_id) DO NOTHING")

	exec.err = errors.New("connection reset")
	err := EnsurePeriodLockRow(context.Background(), exec, 42)
	require.ErrorContains(t, err, "ensure period lock row")
	require.ErrorIs(t, err, exec.err)
}
