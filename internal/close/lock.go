package close

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LockService reads and writes the tenant posting lock.
type LockService struct {
	store  LockStore
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewLockService constructs a LockService. audit may be nil.
func NewLockService(store LockStore, audit AuditPort, logger *slog.Logger) *LockService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockService{store: store, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *LockService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetLock moves the tenant's lock cutoff to lockEndDate. The cutoff may move
// backwards; closing is the only monotonic path.
func (s *LockService) SetLock(ctx context.Context, tenantID int64, lockEndDate time.Time, actorID int64) (PeriodLock, error) {
	if tenantID <= 0 {
		return PeriodLock{}, fmt.Errorf("%w: tenant required", ErrInvalidLock)
	}
	if lockEndDate.IsZero() {
		return PeriodLock{}, fmt.Errorf("%w: lock end date required", ErrInvalidLock)
	}
	end := shared.DateOf(lockEndDate)
	lock, err := s.store.UpsertLock(ctx, PeriodLock{
		TenantID:    tenantID,
		LockEndDate: &end,
		LockedBy:    actorID,
		LockedAt:    s.now(),
	})
	if err != nil {
		return PeriodLock{}, err
	}
	s.logger.Info("period lock set", slog.Int64("tenant_id", tenantID), slog.String("lock_end_date", shared.FormatDate(end)))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "period.lock",
			Entity:   "period_lock",
			EntityID: fmt.Sprint(tenantID),
			Meta:     map[string]any{"lock_end_date": shared.FormatDate(end)},
			At:       s.now(),
		}); err != nil {
			s.logger.Warn("audit period lock", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return lock, nil
}

// GetLock returns the tenant's lock, nil when never set.
func (s *LockService) GetLock(ctx context.Context, tenantID int64) (*PeriodLock, error) {
	return s.store.GetLock(ctx, tenantID)
}

// IsDateLocked reports whether postings dated date are rejected.
func (s *LockService) IsDateLocked(ctx context.Context, tenantID int64, date time.Time) (bool, error) {
	lock, err := s.store.GetLock(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return lock.Locks(shared.DateOf(date)), nil
}
