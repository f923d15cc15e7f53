package recon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Scope identifies what a reconciliation covers.
type Scope string

const (
	ScopeCashSession Scope = "cash-session"
	ScopeMethod      Scope = "method"
	ScopeBank        Scope = "bank"
	ScopeInventory   Scope = "inventory"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeCashSession, ScopeMethod, ScopeBank, ScopeInventory:
		return true
	}
	return false
}

// Status enumerates reconciliation states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusVerified Status = "verified"
	// StatusMissing is reported for required scopes with no reconciliation at all.
	StatusMissing Status = "missing"
)

// Reconciliation records a counted or statement balance against the ledger.
type Reconciliation struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        int64      `json:"tenantId"`
	Scope           Scope      `json:"scope"`
	ScopeRefID      string     `json:"scopeRefId"`
	RangeStart      time.Time  `json:"rangeStart"`
	RangeEnd        time.Time  `json:"rangeEnd"`
	ExpectedBalance *int64     `json:"expectedBalance,omitempty"`
	ActualBalance   int64      `json:"actualBalance"`
	VarianceAmount  int64      `json:"varianceAmount"`
	Status          Status     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	CreatedBy       int64      `json:"createdBy"`
	ReviewedBy      *int64     `json:"reviewedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
}

// Covers reports whether date falls inside the reconciled range, inclusive.
func (r Reconciliation) Covers(date time.Time) bool {
	return !date.Before(r.RangeStart) && !date.After(r.RangeEnd)
}

// CreateInput captures the fields required to record a reconciliation.
type CreateInput struct {
	TenantID        int64
	Scope           Scope
	ScopeRefID      string
	RangeStart      time.Time
	RangeEnd        time.Time
	ExpectedBalance *int64
	ActualBalance   int64
	Notes           string
	ActorID         int64
}

// Validate checks the input shape.
func (in CreateInput) Validate() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidReconciliation)
	}
	if !in.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidReconciliation, in.Scope)
	}
	if strings.TrimSpace(in.ScopeRefID) == "" {
		return fmt.Errorf("%w: scope reference required", ErrInvalidReconciliation)
	}
	if in.RangeStart.IsZero() || in.RangeEnd.IsZero() {
		return fmt.Errorf("%w: range required", ErrInvalidReconciliation)
	}
	if in.RangeEnd.Before(in.RangeStart) {
		return fmt.Errorf("%w: range end before start", ErrInvalidReconciliation)
	}
	return nil
}

// RequiredScope is one scope that must be reconciled before a period closes.
type RequiredScope struct {
	Scope       Scope  `json:"scope"`
	RefID       string `json:"refId"`
	DisplayName string `json:"displayName"`
}

// MissingScope is a required scope without a verified reconciliation.
type MissingScope struct {
	Scope       Scope  `json:"scope"`
	RefID       string `json:"refId"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
}

// ValidationResult reports whether every required scope is reconciled.
type ValidationResult struct {
	PeriodEndDate time.Time      `json:"periodEndDate"`
	IsValid       bool           `json:"isValid"`
	Missing       []MissingScope `json:"missingScopes"`
	Errors        []string       `json:"errors,omitempty"`
}

// PeriodStatus lists reconciliations covering a period end date.
type PeriodStatus struct {
	PeriodEndDate   time.Time        `json:"periodEndDate"`
	Reconciliations []Reconciliation `json:"reconciliations"`
}

// CashierSession is a closed till session that needs reconciling.
type CashierSession struct {
	ID       string
	Label    string
	ClosedAt time.Time
}

var (
	ErrInvalidReconciliation = errors.New("recon: invalid reconciliation")
	ErrNotFound              = fmt.Errorf("recon: reconciliation %w", shared.ErrNotFound)
)
