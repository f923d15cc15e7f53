package close

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/recon"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReconValidator reports reconciliation completeness for a period end.
type ReconValidator interface {
	Validate(ctx context.Context, tenantID int64, periodEndDate time.Time) (recon.ValidationResult, error)
}

// Service orchestrates period closing and opening.
type Service struct {
	repo      Repository
	validator ReconValidator
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, validator ReconValidator, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validator: validator, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListPeriods returns the tenant's periods, newest first.
func (s *Service) ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]Period, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListPeriods(ctx, tenantID, limit, offset)
}

// ClosePeriod closes the books through in.EndDate. Every required scope
// must hold a verified reconciliation covering the end date. The lock and
// the period record are written in one transaction.
func (s *Service) ClosePeriod(ctx context.Context, in ClosePeriodInput) (CloseResult, error) {
	if err := in.Validate(); err != nil {
		return CloseResult{}, err
	}
	endDate := shared.DateOf(in.EndDate)
	today := shared.DateOf(s.now())
	if endDate.After(today) {
		return CloseResult{}, fmt.Errorf("%w: end date %s is in the future", ErrInvalidPeriodRange, shared.FormatDate(endDate))
	}

	lastClosed, err := s.repo.LatestClosed(ctx, in.TenantID)
	if err != nil {
		return CloseResult{}, err
	}
	open, err := s.repo.CurrentOpen(ctx, in.TenantID)
	if err != nil {
		return CloseResult{}, err
	}
	if err := checkCloseOrder(endDate, lastClosed, open); err != nil {
		return CloseResult{}, err
	}

	validation, err := s.validator.Validate(ctx, in.TenantID, endDate)
	if err != nil {
		return CloseResult{}, err
	}
	if !validation.IsValid {
		return CloseResult{}, &ReconciliationIncompleteError{PeriodEndDate: endDate, Missing: validation.Missing}
	}

	if err := s.repo.EnsurePeriodLock(ctx, in.TenantID); err != nil {
		return CloseResult{}, err
	}
	at := s.now()
	var result CloseResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lastClosed, err := tx.LatestClosed(ctx, in.TenantID)
		if err != nil {
			return err
		}
		open, err := tx.CurrentOpen(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if err := checkCloseOrder(endDate, lastClosed, open); err != nil {
			return err
		}
		lock, err := tx.UpsertLock(ctx, PeriodLock{TenantID: in.TenantID, LockEndDate: &endDate, LockedBy: in.ActorID, LockedAt: at})
		if err != nil {
			return err
		}
		var period Period
		if open != nil {
			if err := shared.ValidatePeriodTransition(open.Status, shared.PeriodStatusClosed); err != nil {
				return err
			}
			period, err = tx.MarkClosed(ctx, *open, endDate, in.ActorID, at)
		} else {
			start := shared.FirstOfMonth(endDate)
			if lastClosed != nil && lastClosed.EndDate != nil {
				start = shared.NextDay(*lastClosed.EndDate)
			}
			if err := shared.ValidatePeriodTransition("", shared.PeriodStatusClosed); err != nil {
				return err
			}
			actor := in.ActorID
			period, err = tx.InsertPeriod(ctx, Period{
				TenantID:  in.TenantID,
				StartDate: start,
				EndDate:   &endDate,
				Status:    shared.PeriodStatusClosed,
				OpenedBy:  in.ActorID,
				ClosedBy:  &actor,
				ClosedAt:  &at,
				CreatedAt: at,
			})
		}
		if err != nil {
			return err
		}
		result = CloseResult{Period: period, Lock: lock, Reconciliation: validation}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	s.logger.Info("period closed",
		slog.Int64("tenant_id", in.TenantID),
		slog.String("period_id", result.Period.ID.String()),
		slog.String("end_date", shared.FormatDate(endDate)))
	s.record(ctx, in.TenantID, in.ActorID, "period.close", result.Period, at)
	return result, nil
}

// OpenPeriod starts a new open period after the latest closed one.
func (s *Service) OpenPeriod(ctx context.Context, in OpenPeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	start := shared.DateOf(in.StartDate)
	if err := s.repo.EnsurePeriodLock(ctx, in.TenantID); err != nil {
		return Period{}, err
	}
	at := s.now()
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.CurrentOpen(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: period starting %s is open", ErrPreviousPeriodOpen, shared.FormatDate(open.StartDate))
		}
		lastClosed, err := tx.LatestClosed(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if lastClosed == nil || lastClosed.EndDate == nil {
			return fmt.Errorf("%w: no closed period", ErrPreviousPeriodOpen)
		}
		if !start.After(*lastClosed.EndDate) {
			return fmt.Errorf("%w: start %s must be after %s", ErrInvalidPeriodRange,
				shared.FormatDate(start), shared.FormatDate(*lastClosed.EndDate))
		}
		if err := shared.ValidatePeriodTransition("", shared.PeriodStatusOpen); err != nil {
			return err
		}
		period, err = tx.InsertPeriod(ctx, Period{
			TenantID:  in.TenantID,
			StartDate: start,
			Status:    shared.PeriodStatusOpen,
			OpenedBy:  in.ActorID,
			CreatedAt: at,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.logger.Info("period opened",
		slog.Int64("tenant_id", in.TenantID),
		slog.String("period_id", period.ID.String()),
		slog.String("start_date", shared.FormatDate(start)))
	s.record(ctx, in.TenantID, in.ActorID, "period.open", period, at)
	return period, nil
}

// Status reports the tenant's period state evaluated against today.
func (s *Service) Status(ctx context.Context, tenantID int64) (PeriodStatus, error) {
	today := shared.DateOf(s.now())
	open, err := s.repo.CurrentOpen(ctx, tenantID)
	if err != nil {
		return PeriodStatus{}, err
	}
	lastClosed, err := s.repo.LatestClosed(ctx, tenantID)
	if err != nil {
		return PeriodStatus{}, err
	}
	lock, err := s.repo.GetLock(ctx, tenantID)
	if err != nil {
		return PeriodStatus{}, err
	}
	validation, err := s.validator.Validate(ctx, tenantID, today)
	if err != nil {
		return PeriodStatus{}, err
	}
	status := PeriodStatus{
		CurrentPeriod: open,
		LastClosed:    lastClosed,
		IsLocked:      lock.Locks(today),
		Missing:       validation.Missing,
	}
	if lock != nil {
		status.LockEndDate = lock.LockEndDate
	}
	status.CanClose = validation.IsValid && checkCloseOrder(today, lastClosed, open) == nil
	return status, nil
}

func checkCloseOrder(endDate time.Time, lastClosed, open *Period) error {
	if lastClosed != nil && lastClosed.EndDate != nil && !endDate.After(*lastClosed.EndDate) {
		return fmt.Errorf("%w: books closed through %s", ErrAlreadyClosed, shared.FormatDate(*lastClosed.EndDate))
	}
	if open != nil && open.StartDate.After(endDate) {
		return fmt.Errorf("%w: open period starts %s after %s", ErrInvalidPeriodRange,
			shared.FormatDate(open.StartDate), shared.FormatDate(endDate))
	}
	return nil
}

func (s *Service) record(ctx context.Context, tenantID, actorID int64, action string, period Period, at time.Time) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"start_date": shared.FormatDate(period.StartDate), "status": period.Status}
	if period.EndDate != nil {
		meta["end_date"] = shared.FormatDate(*period.EndDate)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: period.ID.String(),
		Meta:     meta,
		At:       at,
	}); err != nil {
		s.logger.Warn("audit period", slog.String("action", action), slog.Any("error", err))
	}
}
