package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// AccountService is the chart-of-accounts collaborator used by posting callers.
type AccountService struct {
	store  AccountStore
	logger *slog.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(store AccountStore, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{store: store, logger: logger}
}

// FindByCode resolves an account by its tenant-scoped code.
func (s *AccountService) FindByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	return s.store.GetAccountByCode(ctx, tenantID, strings.TrimSpace(code))
}

// List returns every account of the tenant ordered by code.
func (s *AccountService) List(ctx context.Context, tenantID int64) ([]Account, error) {
	return s.store.ListAccounts(ctx, tenantID)
}

// Create inserts a new account, enforcing the parent/sub-account rules.
func (s *AccountService) Create(ctx context.Context, in AccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.ParentCode = strings.TrimSpace(in.ParentCode)
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	account := Account{
		TenantID:      in.TenantID,
		Code:          in.Code,
		Name:          strings.TrimSpace(in.Name),
		Type:          in.Type,
		NormalBalance: in.Type.NormalBalance(),
		IsActive:      true,
		IsParent:      in.IsParent,
	}
	if in.ParentCode != "" {
		parent, err := s.store.GetAccountByCode(ctx, in.TenantID, in.ParentCode)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return Account{}, fmt.Errorf("%w: parent %s not found", ErrInvalidAccount, in.ParentCode)
			}
			return Account{}, err
		}
		if !parent.IsParent {
			return Account{}, fmt.Errorf("%w: %s is not a parent account", ErrInvalidAccount, in.ParentCode)
		}
		account.ParentAccountID = &parent.ID
	}
	created, err := s.store.InsertAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account created", slog.Int64("tenant_id", created.TenantID), slog.String("code", created.Code))
	return created, nil
}

// SetActive toggles account activation.
func (s *AccountService) SetActive(ctx context.Context, tenantID int64, code string, active bool) error {
	return s.store.SetAccountActive(ctx, tenantID, strings.TrimSpace(code), active)
}

// EnsureChart creates the accounts of chart missing for the tenant. Parents
// are created before their sub-accounts. It returns the number created.
func (s *AccountService) EnsureChart(ctx context.Context, tenantID int64, chart []ChartAccount) (int, error) {
	existing, err := s.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, account := range existing {
		have[account.Code] = struct{}{}
	}
	ordered := make([]ChartAccount, 0, len(chart))
	for _, row := range chart {
		if row.IsParent {
			ordered = append(ordered, row)
		}
	}
	for _, row := range chart {
		if !row.IsParent {
			ordered = append(ordered, row)
		}
	}
	created := 0
	for _, row := range ordered {
		if _, ok := have[row.Code]; ok {
			continue
		}
		_, err := s.Create(ctx, AccountInput{
			TenantID:   tenantID,
			Code:       row.Code,
			Name:       row.Name,
			Type:       row.Type,
			IsParent:   row.IsParent,
			ParentCode: row.Parent,
		})
		if err != nil && !errors.Is(err, ErrDuplicateAccount) {
			return created, fmt.Errorf("ledger: ensure chart %s: %w", row.Code, err)
		}
		if err == nil {
			created++
		}
		have[row.Code] = struct{}{}
	}
	s.logger.Info("chart of accounts ensured", slog.Int64("tenant_id", tenantID), slog.Int("created", created))
	return created, nil
}

// VerifyChart fails with AccountsNotFoundError when any code is missing.
func (s *AccountService) VerifyChart(ctx context.Context, tenantID int64, codes []string) error {
	existing, err := s.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, account := range existing {
		have[account.Code] = struct{}{}
	}
	var missing []string
	for _, code := range codes {
		if _, ok := have[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return &AccountsNotFoundError{TenantID: tenantID, Codes: missing}
	}
	return nil
}
