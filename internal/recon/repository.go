package recon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Repository persists reconciliation records.
type Repository interface {
	Insert(ctx context.Context, rec Reconciliation) (Reconciliation, error)
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (Reconciliation, error)
	// MarkVerified moves a draft to verified and returns the stored row.
	MarkVerified(ctx context.Context, tenantID int64, id uuid.UUID, reviewer int64, at time.Time) (Reconciliation, error)
	// ListCovering returns reconciliations whose range contains date.
	ListCovering(ctx context.Context, tenantID int64, date time.Time) ([]Reconciliation, error)
}

// ScopeSource enumerates the operational records that drive required scopes.
type ScopeSource interface {
	// EnabledPaymentMethods returns the codes of the tenant's enabled payment methods.
	EnabledPaymentMethods(ctx context.Context, tenantID int64) ([]string, error)
	CashierWorkflowEnabled(ctx context.Context, tenantID int64) (bool, error)
	// ClosedCashierSessions returns sessions closed on or before through.
	ClosedCashierSessions(ctx context.Context, tenantID int64, through time.Time) ([]CashierSession, error)
}

// AccountLister lists ledger accounts.
type AccountLister interface {
	List(ctx context.Context, tenantID int64) ([]ledger.Account, error)
}

// BalanceReader resolves ledger balances for expected amounts.
type BalanceReader interface {
	GetBalance(ctx context.Context, q ledger.BalanceQuery) (ledger.Balance, error)
}
