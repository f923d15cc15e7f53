package recon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Validator checks reconciliation completeness before a period closes.
type Validator struct {
	repo     Repository
	scopes   ScopeSource
	accounts AccountLister
}

// NewValidator constructs a Validator.
func NewValidator(repo Repository, scopes ScopeSource, accounts AccountLister) *Validator {
	return &Validator{repo: repo, scopes: scopes, accounts: accounts}
}

// RequiredScopes enumerates the scopes that must be reconciled for periodEndDate.
func (v *Validator) RequiredScopes(ctx context.Context, tenantID int64, periodEndDate time.Time) ([]RequiredScope, error) {
	periodEndDate = shared.DateOf(periodEndDate)
	methods, err := v.scopes.EnabledPaymentMethods(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("recon: payment methods: %w", err)
	}
	codes := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		codes[policy.ClearingAccountFor(method)] = struct{}{}
	}
	accounts, err := v.accounts.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("recon: accounts: %w", err)
	}
	var required []RequiredScope
	for _, account := range accounts {
		if _, ok := codes[account.Code]; !ok {
			continue
		}
		if !account.IsActive || !account.IsSubAccount() {
			continue
		}
		required = append(required, RequiredScope{Scope: ScopeMethod, RefID: account.Code, DisplayName: account.Name})
	}
	sort.Slice(required, func(i, j int) bool { return required[i].RefID < required[j].RefID })

	enabled, err := v.scopes.CashierWorkflowEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("recon: cashier workflow: %w", err)
	}
	if enabled {
		sessions, err := v.scopes.ClosedCashierSessions(ctx, tenantID, periodEndDate)
		if err != nil {
			return nil, fmt.Errorf("recon: cashier sessions: %w", err)
		}
		for _, session := range sessions {
			if !shared.OnOrBefore(session.ClosedAt, periodEndDate) {
				continue
			}
			name := session.Label
			if name == "" {
				name = "Cashier session " + session.ID
			}
			required = append(required, RequiredScope{Scope: ScopeCashSession, RefID: session.ID, DisplayName: name})
		}
	}
	return required, nil
}

// Validate reports the required scopes lacking a verified reconciliation
// whose range contains periodEndDate.
func (v *Validator) Validate(ctx context.Context, tenantID int64, periodEndDate time.Time) (ValidationResult, error) {
	periodEndDate = shared.DateOf(periodEndDate)
	required, err := v.RequiredScopes(ctx, tenantID, periodEndDate)
	if err != nil {
		return ValidationResult{}, err
	}
	covering, err := v.repo.ListCovering(ctx, tenantID, periodEndDate)
	if err != nil {
		return ValidationResult{}, err
	}
	type key struct {
		scope Scope
		ref   string
	}
	best := make(map[key]Status, len(covering))
	for _, rec := range covering {
		if !rec.Covers(periodEndDate) {
			continue
		}
		k := key{rec.Scope, rec.ScopeRefID}
		if best[k] != StatusVerified {
			best[k] = rec.Status
		}
	}

	result := ValidationResult{PeriodEndDate: periodEndDate, Missing: []MissingScope{}}
	for _, scope := range required {
		status, ok := best[key{scope.Scope, scope.RefID}]
		switch {
		case ok && status == StatusVerified:
			continue
		case ok:
			result.Errors = append(result.Errors, fmt.Sprintf("reconciliation for %s %s is not verified", scope.Scope, scope.DisplayName))
		default:
			status = StatusMissing
			result.Errors = append(result.Errors, fmt.Sprintf("missing reconciliation for %s %s", scope.Scope, scope.DisplayName))
		}
		result.Missing = append(result.Missing, MissingScope{
			Scope:       scope.Scope,
			RefID:       scope.RefID,
			DisplayName: scope.DisplayName,
			Status:      status,
		})
	}
	result.IsValid = len(result.Missing) == 0
	return result, nil
}
