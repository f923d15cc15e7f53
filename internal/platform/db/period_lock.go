package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// EnsurePeriodLockSQL creates a tenant's period_locks row with no cutoff.
const EnsurePeriodLockSQL = `INSERT INTO period_locks (tenant_id, lock_end_date) VALUES ($1, NULL)
ON CONFLICT (tenant_id) DO NOTHING`

// Execer runs a statement outside of any caller transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsurePeriodLockRow commits the tenant's period_locks row before a posting
// or closing transaction starts, so the FOR SHARE and FOR UPDATE taken inside
// those transactions always contend on an existing row. A NULL cutoff means
// nothing is locked.
func EnsurePeriodLockRow(ctx context.Context, exec Execer, tenantID int64) error {
	if _, err := exec.Exec(ctx, EnsurePeriodLockSQL, tenantID); err != nil {
		return fmt.Errorf("platform/db: ensure period lock row: %w", err)
	}
	return nil
}
