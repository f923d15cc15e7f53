package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository abstracts ledger persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// EnsurePeriodLock commits the tenant's lock row so LockEndDate always
	// has a row to share-lock.
	EnsurePeriodLock(ctx context.Context, tenantID int64) error

	FindEntryBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (JournalEntry, error)
	GetEntry(ctx context.Context, tenantID int64, id uuid.UUID) (JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)

	AccountStore
	BalanceReader
}

// AccountStore persists chart-of-accounts rows.
type AccountStore interface {
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]Account, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	SetAccountActive(ctx context.Context, tenantID int64, code string, active bool) error
}

// BalanceReader exposes the reads required by the balance engine.
type BalanceReader interface {
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	ListSubAccounts(ctx context.Context, tenantID int64, parentID uuid.UUID) ([]Account, error)
	SumLines(ctx context.Context, query LineSumQuery) (LineTotals, error)
}

// TxRepository exposes the operations available inside a posting transaction.
type TxRepository interface {
	AccountsByCodes(ctx context.Context, tenantID int64, codes []string) ([]Account, error)
	// LockEndDate returns the tenant's inclusive lock cutoff, nil when unlocked.
	LockEndDate(ctx context.Context, tenantID int64) (*time.Time, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entry JournalEntry, lines []JournalLine) ([]JournalLine, error)
}

// LineSumQuery selects the journal lines summed for a leaf account.
type LineSumQuery struct {
	TenantID  int64
	AccountID uuid.UUID
	From      *time.Time
	AsOf      *time.Time
	Filter    LineFilter
}

// LineTotals holds summed debit and credit amounts.
type LineTotals struct {
	Debit  int64
	Credit int64
}
