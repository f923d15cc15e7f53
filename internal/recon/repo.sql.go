package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository and ScopeSource on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL reconciliation store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const reconSelect = `SELECT id, tenant_id, scope, scope_ref_id, range_start, range_end, expected_balance,
actual_balance, variance_amount, status, COALESCE(notes,''), created_by, reviewed_by, created_at, verified_at
FROM reconciliations`

func (r *PGRepository) Insert(ctx context.Context, rec Reconciliation) (Reconciliation, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO reconciliations
(tenant_id, scope, scope_ref_id, range_start, range_end, expected_balance, actual_balance, variance_amount, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12)
RETURNING id, created_at`,
		rec.TenantID, rec.Scope, rec.ScopeRefID, rec.RangeStart, rec.RangeEnd, rec.ExpectedBalance,
		rec.ActualBalance, rec.VarianceAmount, rec.Status, rec.Notes, rec.CreatedBy, rec.CreatedAt)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return Reconciliation{}, fmt.Errorf("recon: insert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, tenantID int64, id uuid.UUID) (Reconciliation, error) {
	return scanReconciliation(r.pool.QueryRow(ctx, reconSelect+` WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *PGRepository) MarkVerified(ctx context.Context, tenantID int64, id uuid.UUID, reviewer int64, at time.Time) (Reconciliation, error) {
	var reviewedBy *int64
	if reviewer > 0 {
		reviewedBy = &reviewer
	}
	// A row verified concurrently is left untouched and returned as stored.
	_, err := r.pool.Exec(ctx, `UPDATE reconciliations SET status='verified', reviewed_by=$3, verified_at=$4
WHERE tenant_id=$1 AND id=$2 AND status='draft'`, tenantID, id, reviewedBy, at)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("recon: verify: %w", err)
	}
	return r.Get(ctx, tenantID, id)
}

func (r *PGRepository) ListCovering(ctx context.Context, tenantID int64, date time.Time) ([]Reconciliation, error) {
	rows, err := r.pool.Query(ctx, reconSelect+` WHERE tenant_id=$1 AND range_start <= $2 AND range_end >= $2
ORDER BY scope, scope_ref_id, created_at`, tenantID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepository) EnabledPaymentMethods(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM payment_methods WHERE tenant_id=$1 AND enabled ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *PGRepository) CashierWorkflowEnabled(ctx context.Context, tenantID int64) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `SELECT cashier_flow_enabled FROM tenant_settings WHERE tenant_id=$1`, tenantID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return enabled, err
}

func (r *PGRepository) ClosedCashierSessions(ctx context.Context, tenantID int64, through time.Time) ([]CashierSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text, COALESCE(label,''), closed_at FROM cashier_sessions
WHERE tenant_id=$1 AND status='closed' AND closed_at::date <= $2 ORDER BY closed_at`, tenantID, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []CashierSession
	for rows.Next() {
		var session CashierSession
		if err := rows.Scan(&session.ID, &session.Label, &session.ClosedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanReconciliation(row pgx.Row) (Reconciliation, error) {
	var rec Reconciliation
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Scope, &rec.ScopeRefID, &rec.RangeStart, &rec.RangeEnd,
		&rec.ExpectedBalance, &rec.ActualBalance, &rec.VarianceAmount, &rec.Status, &rec.Notes,
		&rec.CreatedBy, &rec.ReviewedBy, &rec.CreatedAt, &rec.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reconciliation{}, ErrNotFound
	}
	return rec, err
}
