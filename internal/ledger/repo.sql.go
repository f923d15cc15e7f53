package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const (
	constraintEntrySource = "uq_journal_entries_source"
	constraintAccountCode = "uq_accounts_tenant_code"
	pgUniqueViolation     = "23505"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool       *pgxpool.Pool
	lockRowsOK sync.Map
}

// NewRepository constructs the PostgreSQL ledger store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// EnsurePeriodLock creates the tenant's lock row once per process; rows are
// never deleted.
func (r *PGRepository) EnsurePeriodLock(ctx context.Context, tenantID int64) error {
	if _, ok := r.lockRowsOK.Load(tenantID); ok {
		return nil
	}
	if err := db.EnsurePeriodLockRow(ctx, r.pool, tenantID); err != nil {
		return err
	}
	r.lockRowsOK.Store(tenantID, struct{}{})
	return nil
}

func (r *PGRepository) FindEntryBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (JournalEntry, error) {
	row := r.pool.QueryRow(ctx, entrySelect+` WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3`, tenantID, sourceType, sourceID)
	entry, err := scanEntry(row)
	if err != nil {
		return JournalEntry{}, err
	}
	return r.attachLines(ctx, entry)
}

func (r *PGRepository) GetEntry(ctx context.Context, tenantID int64, id uuid.UUID) (JournalEntry, error) {
	row := r.pool.QueryRow(ctx, entrySelect+` WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	entry, err := scanEntry(row)
	if err != nil {
		return JournalEntry{}, err
	}
	return r.attachLines(ctx, entry)
}

func (r *PGRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		clauses = append(clauses, fmt.Sprintf("source_type=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	sql := fmt.Sprintf("%s WHERE %s ORDER BY entry_date DESC, posted_at DESC LIMIT $%d OFFSET $%d",
		entrySelect, strings.Join(clauses, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		withLines, err := r.attachLines(ctx, entries[i])
		if err != nil {
			return nil, err
		}
		entries[i] = withLines
	}
	return entries, nil
}

func (r *PGRepository) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	row := r.pool.QueryRow(ctx, accountSelect+` WHERE tenant_id=$1 AND code=$2`, tenantID, code)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return account, err
}

func (r *PGRepository) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	return queryAccounts(ctx, r.pool, accountSelect+` WHERE tenant_id=$1 ORDER BY code`, tenantID)
}

func (r *PGRepository) ListSubAccounts(ctx context.Context, tenantID int64, parentID uuid.UUID) ([]Account, error) {
	return queryAccounts(ctx, r.pool, accountSelect+` WHERE tenant_id=$1 AND parent_account_id=$2 ORDER BY code`, tenantID, parentID)
}

func (r *PGRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, normal_balance, is_active, is_parent, parent_account_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		account.TenantID, account.Code, account.Name, account.Type, account.NormalBalance, account.IsActive, account.IsParent, account.ParentAccountID).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, constraintAccountCode) {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, err
	}
	return account, nil
}

func (r *PGRepository) SetAccountActive(ctx context.Context, tenantID int64, code string, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active=$3, updated_at=NOW() WHERE tenant_id=$1 AND code=$2`, tenantID, code, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PGRepository) SumLines(ctx context.Context, q LineSumQuery) (LineTotals, error) {
	clauses := []string{"l.tenant_id=$1", "l.account_id=$2"}
	args := []any{q.TenantID, q.AccountID}
	add := func(cond string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}
	if q.From != nil {
		add("e.entry_date >= $%d", *q.From)
	}
	if q.AsOf != nil {
		add("e.entry_date <= $%d", *q.AsOf)
	}
	if q.Filter.OrderID != "" {
		add("l.order_id = $%d", q.Filter.OrderID)
	}
	if q.Filter.CustomerID != "" {
		add("l.customer_id = $%d", q.Filter.CustomerID)
	}
	if q.Filter.SupplierID != "" {
		add("l.supplier_id = $%d", q.Filter.SupplierID)
	}
	sql := `SELECT COALESCE(SUM(l.debit),0)::bigint, COALESCE(SUM(l.credit),0)::bigint
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE ` + strings.Join(clauses, " AND ")
	var totals LineTotals
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&totals.Debit, &totals.Credit); err != nil {
		return LineTotals{}, err
	}
	return totals, nil
}

func (r *PGRepository) attachLines(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	lines, err := queryLines(ctx, r.pool, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) AccountsByCodes(ctx context.Context, tenantID int64, codes []string) ([]Account, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return queryAccounts(ctx, r.tx, accountSelect+` WHERE tenant_id=$1 AND code = ANY($2) AND is_active`, tenantID, codes)
}

func (r *txRepository) LockEndDate(ctx context.Context, tenantID int64) (*time.Time, error) {
	var lockEnd *time.Time
	err := r.tx.QueryRow(ctx, `SELECT lock_end_date FROM period_locks WHERE tenant_id=$1 FOR SHARE`, tenantID).Scan(&lockEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lockEnd, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, entry_date, memo, source_type, source_id)
VALUES ($1,$2,$3,$4,$5) RETURNING id, posted_at`,
		entry.TenantID, entry.EntryDate, nullString(entry.Memo), entry.SourceType, entry.SourceID).
		Scan(&entry.ID, &entry.PostedAt)
	if err != nil {
		if isUniqueViolation(err, constraintEntrySource) {
			return JournalEntry{}, ErrSourceConflict
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entry JournalEntry, lines []JournalLine) ([]JournalLine, error) {
	batch := &pgx.Batch{}
	for idx, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, account_id, tenant_id, line_no, debit, credit, order_id, customer_id, supplier_id, purchase_id, payment_method, reference)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			entry.ID, line.AccountID, entry.TenantID, idx+1, line.Debit, line.Credit,
			nullString(line.Meta.OrderID), nullString(line.Meta.CustomerID), nullString(line.Meta.SupplierID),
			nullString(line.Meta.PurchaseID), nullString(line.Meta.PaymentMethod), nullString(line.Meta.Reference))
	}
	results := r.tx.SendBatch(ctx, batch)
	out := make([]JournalLine, len(lines))
	for idx, line := range lines {
		line.EntryID = entry.ID
		line.TenantID = entry.TenantID
		if err := results.QueryRow().Scan(&line.ID); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("ledger: insert line %d: %w", idx, err)
		}
		out[idx] = line
	}
	if err := results.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

const entrySelect = `SELECT id, tenant_id, entry_date, COALESCE(memo, ''), source_type, source_id, posted_at FROM journal_entries`

const accountSelect = `SELECT id, tenant_id, code, name, type, normal_balance, is_active, is_parent, parent_account_id, created_at, updated_at FROM accounts`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.EntryDate, &e.Memo, &e.SourceType, &e.SourceID, &e.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive, &a.IsParent, &a.ParentAccountID, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func queryAccounts(ctx context.Context, q querier, sql string, args ...any) ([]Account, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func queryLines(ctx context.Context, q querier, entryID uuid.UUID) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.entry_id, l.account_id, a.code, l.tenant_id, l.debit, l.credit,
COALESCE(l.order_id,''), COALESCE(l.customer_id,''), COALESCE(l.supplier_id,''), COALESCE(l.purchase_id,''),
COALESCE(l.payment_method,''), COALESCE(l.reference,'')
FROM journal_lines l JOIN accounts a ON a.id = l.account_id
WHERE l.entry_id=$1 ORDER BY l.line_no`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.AccountCode, &line.TenantID, &line.Debit, &line.Credit,
			&line.Meta.OrderID, &line.Meta.CustomerID, &line.Meta.SupplierID, &line.Meta.PurchaseID,
			&line.Meta.PaymentMethod, &line.Meta.Reference); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}
