package close

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/recon"
)

// PeriodLock is the tenant's inclusive posting cutoff. A nil LockEndDate
// means nothing is locked.
type PeriodLock struct {
	TenantID    int64      `json:"tenantId"`
	LockEndDate *time.Time `json:"lockEndDate"`
	LockedBy    int64      `json:"lockedBy"`
	LockedAt    time.Time  `json:"lockedAt"`
}

// Locks reports whether date is on or before the lock cutoff.
func (l *PeriodLock) Locks(date time.Time) bool {
	if l == nil || l.LockEndDate == nil {
		return false
	}
	return !date.After(*l.LockEndDate)
}

// Period is a contiguous accounting period. EndDate is nil while open.
type Period struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  int64      `json:"tenantId"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	Status    string     `json:"status"`
	OpenedBy  int64      `json:"openedBy"`
	ClosedBy  *int64     `json:"closedBy,omitempty"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ClosePeriodInput requests closing the books through EndDate.
type ClosePeriodInput struct {
	TenantID int64
	EndDate  time.Time
	ActorID  int64
}

// Validate checks the input shape.
func (in ClosePeriodInput) Validate() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidPeriodRange)
	}
	if in.EndDate.IsZero() {
		return fmt.Errorf("%w: end date required", ErrInvalidPeriodRange)
	}
	return nil
}

// OpenPeriodInput requests a new open period starting at StartDate.
type OpenPeriodInput struct {
	TenantID  int64
	StartDate time.Time
	ActorID   int64
}

// Validate checks the input shape.
func (in OpenPeriodInput) Validate() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidPeriodRange)
	}
	if in.StartDate.IsZero() {
		return fmt.Errorf("%w: start date required", ErrInvalidPeriodRange)
	}
	return nil
}

// CloseResult is returned by a successful close.
type CloseResult struct {
	Period         Period                 `json:"period"`
	Lock           PeriodLock             `json:"lock"`
	Reconciliation recon.ValidationResult `json:"reconciliation"`
}

// PeriodStatus summarises the tenant's period state as of today.
type PeriodStatus struct {
	CurrentPeriod *Period              `json:"currentPeriod"`
	LastClosed    *Period              `json:"lastClosedPeriod"`
	IsLocked      bool                 `json:"isLocked"`
	LockEndDate   *time.Time           `json:"lockEndDate"`
	CanClose      bool                 `json:"canClose"`
	Missing       []recon.MissingScope `json:"missingReconciliations"`
}

var (
	ErrAlreadyClosed            = errors.New("close: period already closed")
	ErrPreviousPeriodOpen       = errors.New("close: previous period still open")
	ErrInvalidPeriodRange       = errors.New("close: invalid period range")
	ErrReconciliationIncomplete = errors.New("close: reconciliation incomplete")
	ErrInvalidLock              = errors.New("close: invalid lock")
)

// ReconciliationIncompleteError lists the scopes blocking a close.
type ReconciliationIncompleteError struct {
	PeriodEndDate time.Time
	Missing       []recon.MissingScope
}

func (e *ReconciliationIncompleteError) Error() string {
	refs := make([]string, len(e.Missing))
	for idx, m := range e.Missing {
		refs[idx] = string(m.Scope) + ":" + m.RefID
	}
	return fmt.Sprintf("close: reconciliation incomplete for %s: %s",
		e.PeriodEndDate.Format(time.DateOnly), strings.Join(refs, ", "))
}

func (e *ReconciliationIncompleteError) Unwrap() error { return ErrReconciliationIncomplete }
