package recon

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages reconciliation records.
type Service struct {
	repo     Repository
	balances BalanceReader
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a reconciliation service. balances and audit may be nil.
func NewService(repo Repository, balances BalanceReader, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, balances: balances, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create records a draft reconciliation. When no expected balance is given
// for a payment-method scope, the ledger balance of the account at the end
// of the range is used.
func (s *Service) Create(ctx context.Context, in CreateInput) (Reconciliation, error) {
	in.ScopeRefID = strings.TrimSpace(in.ScopeRefID)
	if err := in.Validate(); err != nil {
		return Reconciliation{}, err
	}
	in.RangeStart = shared.DateOf(in.RangeStart)
	in.RangeEnd = shared.DateOf(in.RangeEnd)

	expected := in.ExpectedBalance
	if expected == nil && in.Scope == ScopeMethod && s.balances != nil {
		asOf := in.RangeEnd
		balance, err := s.balances.GetBalance(ctx, ledger.BalanceQuery{TenantID: in.TenantID, AccountCode: in.ScopeRefID, AsOf: &asOf})
		if err != nil {
			return Reconciliation{}, err
		}
		expected = &balance.Balance
	}
	var variance int64
	if expected != nil {
		variance = *expected - in.ActualBalance
	} else {
		variance = -in.ActualBalance
	}
	rec, err := s.repo.Insert(ctx, Reconciliation{
		TenantID:        in.TenantID,
		Scope:           in.Scope,
		ScopeRefID:      in.ScopeRefID,
		RangeStart:      in.RangeStart,
		RangeEnd:        in.RangeEnd,
		ExpectedBalance: expected,
		ActualBalance:   in.ActualBalance,
		VarianceAmount:  variance,
		Status:          StatusDraft,
		Notes:           strings.TrimSpace(in.Notes),
		CreatedBy:       in.ActorID,
		CreatedAt:       s.now(),
	})
	if err != nil {
		return Reconciliation{}, err
	}
	s.logger.Info("reconciliation created",
		slog.Int64("tenant_id", rec.TenantID),
		slog.String("scope", string(rec.Scope)),
		slog.String("ref", rec.ScopeRefID),
		slog.Int64("variance", rec.VarianceAmount))
	s.record(ctx, rec, "recon.create", in.ActorID)
	return rec, nil
}

// Verify moves a draft reconciliation to verified. Verifying an already
// verified reconciliation returns it unchanged.
func (s *Service) Verify(ctx context.Context, tenantID int64, id uuid.UUID, actorID int64) (Reconciliation, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Reconciliation{}, err
	}
	if rec.Status == StatusVerified {
		return rec, nil
	}
	rec, err = s.repo.MarkVerified(ctx, tenantID, id, actorID, s.now())
	if err != nil {
		return Reconciliation{}, err
	}
	s.record(ctx, rec, "recon.verify", actorID)
	return rec, nil
}

// Get fetches one reconciliation.
func (s *Service) Get(ctx context.Context, tenantID int64, id uuid.UUID) (Reconciliation, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// Status lists the reconciliations covering periodEndDate.
func (s *Service) Status(ctx context.Context, tenantID int64, periodEndDate time.Time) (PeriodStatus, error) {
	periodEndDate = shared.DateOf(periodEndDate)
	recs, err := s.repo.ListCovering(ctx, tenantID, periodEndDate)
	if err != nil {
		return PeriodStatus{}, err
	}
	if recs == nil {
		recs = []Reconciliation{}
	}
	return PeriodStatus{PeriodEndDate: periodEndDate, Reconciliations: recs}, nil
}

func (s *Service) record(ctx context.Context, rec Reconciliation, action string, actorID int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: rec.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "reconciliation",
		EntityID: rec.ID.String(),
		Meta: map[string]any{
			"scope":    string(rec.Scope),
			"ref":      rec.ScopeRefID,
			"variance": rec.VarianceAmount,
			"status":   string(rec.Status),
		},
		At: s.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit reconciliation", slog.String("id", rec.ID.String()), slog.Any("error", err))
	}
}
