package close

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	store
}

// NewRepository constructs the PostgreSQL period store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, store: store{q: pool}}
}

// EnsurePeriodLock creates the tenant's lock row when missing.
func (r *PGRepository) EnsurePeriodLock(ctx context.Context, tenantID int64) error {
	return db.EnsurePeriodLockRow(ctx, r.pool, tenantID)
}

// WithTx runs fn in a serializable transaction. The tenant's lock row is
// taken FOR UPDATE first so concurrent closes queue behind each other and
// behind in-flight posts holding it FOR SHARE.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{store: store{q: tx}})
	})
}

func (r *PGRepository) ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]Period, error) {
	rows, err := r.pool.Query(ctx, periodSelect+` WHERE tenant_id=$1 ORDER BY start_date DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		period, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, period)
	}
	return out, rows.Err()
}

type store struct {
	q querier
}

type txStore struct {
	store
}

const periodSelect = `SELECT id, tenant_id, start_date, end_date, status, opened_by, closed_by, closed_at, created_at
FROM accounting_periods`

func (s store) GetLock(ctx context.Context, tenantID int64) (*PeriodLock, error) {
	var lock PeriodLock
	err := s.q.QueryRow(ctx, `SELECT tenant_id, lock_end_date, locked_by, locked_at FROM period_locks
WHERE tenant_id=$1 AND lock_end_date IS NOT NULL`,
		tenantID).Scan(&lock.TenantID, &lock.LockEndDate, &lock.LockedBy, &lock.LockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s store) UpsertLock(ctx context.Context, lock PeriodLock) (PeriodLock, error) {
	err := s.q.QueryRow(ctx, `INSERT INTO period_locks (tenant_id, lock_end_date, locked_by, locked_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id) DO UPDATE SET lock_end_date=EXCLUDED.lock_end_date, locked_by=EXCLUDED.locked_by, locked_at=EXCLUDED.locked_at
RETURNING tenant_id, lock_end_date, locked_by, locked_at`,
		lock.TenantID, lock.LockEndDate, lock.LockedBy, lock.LockedAt).
		Scan(&lock.TenantID, &lock.LockEndDate, &lock.LockedBy, &lock.LockedAt)
	if err != nil {
		return PeriodLock{}, fmt.Errorf("close: upsert lock: %w", err)
	}
	return lock, nil
}

func (s store) LatestClosed(ctx context.Context, tenantID int64) (*Period, error) {
	return s.optionalPeriod(ctx, periodSelect+` WHERE tenant_id=$1 AND status='closed' ORDER BY end_date DESC LIMIT 1`, tenantID)
}

func (s store) CurrentOpen(ctx context.Context, tenantID int64) (*Period, error) {
	return s.optionalPeriod(ctx, periodSelect+` WHERE tenant_id=$1 AND status='open' LIMIT 1`, tenantID)
}

func (s store) optionalPeriod(ctx context.Context, sql string, args ...any) (*Period, error) {
	period, err := scanPeriod(s.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (t *txStore) LatestClosed(ctx context.Context, tenantID int64) (*Period, error) {
	var locked int
	err := t.q.QueryRow(ctx, `SELECT 1 FROM period_locks WHERE tenant_id=$1 FOR UPDATE`, tenantID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("close: period lock row missing for tenant %d", tenantID)
	}
	if err != nil {
		return nil, err
	}
	return t.store.LatestClosed(ctx, tenantID)
}

func (t *txStore) InsertPeriod(ctx context.Context, period Period) (Period, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO accounting_periods
(tenant_id, start_date, end_date, status, opened_by, closed_by, closed_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id`, period.TenantID, period.StartDate, period.EndDate, period.Status, period.OpenedBy,
		period.ClosedBy, period.ClosedAt, period.CreatedAt)
	if err := row.Scan(&period.ID); err != nil {
		return Period{}, fmt.Errorf("close: insert period: %w", err)
	}
	return period, nil
}

func (t *txStore) MarkClosed(ctx context.Context, period Period, endDate time.Time, actorID int64, at time.Time) (Period, error) {
	tag, err := t.q.Exec(ctx, `UPDATE accounting_periods SET status='closed', end_date=$3, closed_by=$4, closed_at=$5
WHERE tenant_id=$1 AND id=$2 AND status='open'`, period.TenantID, period.ID, endDate, actorID, at)
	if err != nil {
		return Period{}, fmt.Errorf("close: mark closed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Period{}, ErrAlreadyClosed
	}
	period.Status = "closed"
	period.EndDate = &endDate
	period.ClosedBy = &actorID
	period.ClosedAt = &at
	return period, nil
}

func scanPeriod(row pgx.Row) (Period, error) {
	var period Period
	err := row.Scan(&period.ID, &period.TenantID, &period.StartDate, &period.EndDate, &period.Status,
		&period.OpenedBy, &period.ClosedBy, &period.ClosedAt, &period.CreatedAt)
	return period, err
}
