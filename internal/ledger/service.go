package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the posting engine.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the posting engine.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post records a balanced journal entry for a business event. Reposting the
// same (tenant, sourceType, sourceID) returns the stored entry unchanged.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	input.SourceType = strings.TrimSpace(input.SourceType)
	input.SourceID = strings.TrimSpace(input.SourceID)
	if err := input.ValidateKey(); err != nil {
		return JournalEntry{}, err
	}
	existing, err := s.repo.FindEntryBySource(ctx, input.TenantID, input.SourceType, input.SourceID)
	if err == nil {
		s.logReplay(existing)
		return existing, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return JournalEntry{}, err
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	input.EntryDate = shared.DateOf(input.EntryDate)
	if err := s.repo.EnsurePeriodLock(ctx, input.TenantID); err != nil {
		return JournalEntry{}, err
	}

	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := s.resolveAccounts(ctx, tx, input)
		if err != nil {
			return err
		}
		debit, credit, err := input.Totals()
		if err != nil {
			return err
		}
		if debit != credit {
			return &UnbalancedEntryError{Debit: debit, Credit: credit}
		}
		if len(input.Lines) < 2 {
			return ErrTooFewLines
		}
		lockEnd, err := tx.LockEndDate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		if lockEnd != nil && shared.OnOrBefore(input.EntryDate, *lockEnd) {
			return &PeriodLockedError{LockEndDate: shared.DateOf(*lockEnd)}
		}
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			TenantID:   input.TenantID,
			EntryDate:  input.EntryDate,
			Memo:       input.Memo,
			SourceType: input.SourceType,
			SourceID:   input.SourceID,
		})
		if err != nil {
			return err
		}
		lines := make([]JournalLine, len(input.Lines))
		for idx, line := range input.Lines {
			account := accounts[line.AccountCode]
			lines[idx] = JournalLine{
				AccountID:   account.ID,
				AccountCode: account.Code,
				Debit:       line.Debit,
				Credit:      line.Credit,
				Meta:        line.Meta,
			}
		}
		inserted.Lines, err = tx.InsertLines(ctx, inserted, lines)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if errors.Is(err, ErrSourceConflict) {
		existing, findErr := s.repo.FindEntryBySource(ctx, input.TenantID, input.SourceType, input.SourceID)
		if findErr != nil {
			return JournalEntry{}, findErr
		}
		s.logReplay(existing)
		return existing, nil
	}
	if err != nil {
		return JournalEntry{}, err
	}

	debit, _ := entry.Totals()
	s.logger.Info("journal posted",
		slog.Int64("tenant_id", entry.TenantID),
		slog.String("entry_id", entry.ID.String()),
		slog.String("source_type", entry.SourceType),
		slog.String("source_id", entry.SourceID),
		slog.Int64("amount", debit))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: entry.TenantID,
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: entry.ID.String(),
			Meta: map[string]any{
				"source_type": entry.SourceType,
				"source_id":   entry.SourceID,
				"entry_date":  shared.FormatDate(entry.EntryDate),
				"amount":      debit,
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("audit journal post", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
		}
	}
	return entry, nil
}

// GetEntry fetches a posted entry with its lines.
func (s *Service) GetEntry(ctx context.Context, tenantID int64, id uuid.UUID) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, tenantID, id)
}

// FindBySource fetches the entry posted for a business event.
func (s *Service) FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (JournalEntry, error) {
	return s.repo.FindEntryBySource(ctx, tenantID, sourceType, sourceID)
}

// ListEntries lists posted entries, newest first.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

func (s *Service) resolveAccounts(ctx context.Context, tx TxRepository, input PostingInput) (map[string]Account, error) {
	codes := input.AccountCodes()
	found, err := tx.AccountsByCodes(ctx, input.TenantID, codes)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]Account, len(found))
	for _, account := range found {
		byCode[account.Code] = account
	}
	var missing []string
	for _, code := range codes {
		if _, ok := byCode[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return nil, &AccountsNotFoundError{TenantID: input.TenantID, Codes: missing}
	}
	for _, code := range codes {
		if byCode[code].IsParent {
			return nil, &parentPostingError{code: code}
		}
	}
	return byCode, nil
}

func (s *Service) logReplay(entry JournalEntry) {
	s.logger.Debug("journal already posted",
		slog.Int64("tenant_id", entry.TenantID),
		slog.String("entry_id", entry.ID.String()),
		slog.String("source_type", entry.SourceType),
		slog.String("source_id", entry.SourceID))
}

type parentPostingError struct {
	code string
}

func (e *parentPostingError) Error() string {
	return ErrParentAccountPosting.Error() + ": " + e.code
}

func (e *parentPostingError) Unwrap() error { return ErrParentAccountPosting }
