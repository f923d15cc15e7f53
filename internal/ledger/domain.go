package ledger

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountType enumerates supported ledger account classes.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance returns the side on which the account type normally carries its balance.
func (t AccountType) NormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// NormalBalance is the side (debit or credit) an account normally carries.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// Sign returns +1 for debit-normal accounts and -1 for credit-normal ones.
func (n NormalBalance) Sign() int64 {
	if n == NormalBalanceCredit {
		return -1
	}
	return 1
}

// Account is a ledger account scoped to a tenant.
type Account struct {
	ID              uuid.UUID
	TenantID        int64
	Code            string
	Name            string
	Type            AccountType
	NormalBalance   NormalBalance
	IsActive        bool
	IsParent        bool
	ParentAccountID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsSubAccount reports whether the account hangs under a parent.
func (a Account) IsSubAccount() bool {
	return a.ParentAccountID != nil
}

// LineMeta carries the business identifiers a journal line originated from.
type LineMeta struct {
	OrderID       string `json:"orderId,omitempty"`
	CustomerID    string `json:"customerId,omitempty"`
	SupplierID    string `json:"supplierId,omitempty"`
	PurchaseID    string `json:"purchaseId,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// JournalEntry is one atomic accounting transaction.
type JournalEntry struct {
	ID         uuid.UUID
	TenantID   int64
	EntryDate  time.Time
	Memo       string
	SourceType string
	SourceID   string
	PostedAt   time.Time
	Lines      []JournalLine
}

// Totals sums the debit and credit legs of the entry.
func (e JournalEntry) Totals() (debit, credit int64) {
	for _, line := range e.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}

// JournalLine is one leg of an entry.
type JournalLine struct {
	ID          uuid.UUID
	EntryID     uuid.UUID
	AccountID   uuid.UUID
	AccountCode string
	TenantID    int64
	Debit       int64
	Credit      int64
	Meta        LineMeta
}

// PostingLine describes a journal line in a posting request.
type PostingLine struct {
	AccountCode string
	Debit       int64
	Credit      int64
	Meta        LineMeta
}

// PostingInput groups fields required to post a journal entry.
type PostingInput struct {
	TenantID   int64
	SourceType string
	SourceID   string
	EntryDate  time.Time
	Memo       string
	Lines      []PostingLine
}

// ValidateKey checks the fields identifying the business event.
func (in PostingInput) ValidateKey() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidPosting)
	}
	if strings.TrimSpace(in.SourceType) == "" {
		return fmt.Errorf("%w: source type required", ErrInvalidPosting)
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return fmt.Errorf("%w: source id required", ErrInvalidPosting)
	}
	return nil
}

// Validate ensures each posting line is well formed. Balance and line count
// are checked by Post after account resolution, so missing accounts are
// reported first and a one-sided posting surfaces as unbalanced.
func (in PostingInput) Validate() error {
	if err := in.ValidateKey(); err != nil {
		return err
	}
	if in.EntryDate.IsZero() {
		return fmt.Errorf("%w: entry date required", ErrInvalidPosting)
	}
	for idx, line := range in.Lines {
		if strings.TrimSpace(line.AccountCode) == "" {
			return fmt.Errorf("%w: line %d missing account code", ErrInvalidPosting, idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d negative amount", ErrInvalidPosting, idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("%w: line %d cannot be both debit and credit", ErrInvalidPosting, idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("%w: line %d has no amount", ErrInvalidPosting, idx)
		}
	}
	return nil
}

// Totals sums debit and credit across the posting lines.
func (in PostingInput) Totals() (debit, credit int64, err error) {
	for idx, line := range in.Lines {
		if line.Debit > math.MaxInt64-debit || line.Credit > math.MaxInt64-credit {
			return 0, 0, fmt.Errorf("%w: line %d", ErrAmountOverflow, idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit, nil
}

// AccountCodes returns the distinct account codes referenced, in first-seen order.
func (in PostingInput) AccountCodes() []string {
	seen := make(map[string]struct{}, len(in.Lines))
	codes := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if _, ok := seen[line.AccountCode]; ok {
			continue
		}
		seen[line.AccountCode] = struct{}{}
		codes = append(codes, line.AccountCode)
	}
	return codes
}

var accountCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

// AccountInput captures the fields needed to create an account.
type AccountInput struct {
	TenantID   int64
	Code       string
	Name       string
	Type       AccountType
	IsParent   bool
	ParentCode string
}

// Validate checks the account input shape.
func (in AccountInput) Validate() error {
	if in.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidAccount)
	}
	if !accountCodePattern.MatchString(in.Code) {
		return fmt.Errorf("%w: code %q must be upper snake case", ErrInvalidAccount, in.Code)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidAccount)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, in.Type)
	}
	if in.IsParent && in.ParentCode != "" {
		return fmt.Errorf("%w: parent accounts cannot have a parent", ErrInvalidAccount)
	}
	return nil
}

// ChartAccount is one row of a chart-of-accounts template.
type ChartAccount struct {
	Code     string      `yaml:"code"`
	Name     string      `yaml:"name"`
	Type     AccountType `yaml:"type"`
	IsParent bool        `yaml:"parent"`
	Parent   string      `yaml:"under"`
}

// EntryFilter narrows journal entry listings.
type EntryFilter struct {
	TenantID   int64
	SourceType string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

var (
	ErrAccountsNotFound     = errors.New("ledger: accounts not found")
	ErrAccountNotFound      = fmt.Errorf("ledger: account %w", shared.ErrNotFound)
	ErrUnbalancedEntry      = errors.New("ledger: journal lines must balance")
	ErrPeriodLocked         = errors.New("ledger: period locked")
	ErrInvalidPosting       = errors.New("ledger: invalid posting")
	ErrTooFewLines          = errors.New("ledger: journal requires at least two lines")
	ErrAmountOverflow       = errors.New("ledger: amount overflow")
	ErrParentAccountPosting = errors.New("ledger: parent accounts cannot be posted to")
	ErrSourceConflict       = errors.New("ledger: source already posted")
	ErrEntryNotFound        = fmt.Errorf("ledger: journal entry %w", shared.ErrNotFound)
	ErrDuplicateAccount     = errors.New("ledger: account code already exists")
	ErrInvalidAccount       = errors.New("ledger: invalid account")
	ErrInvalidQuery         = errors.New("ledger: invalid balance query")
)

// AccountsNotFoundError lists account codes missing for a tenant.
type AccountsNotFoundError struct {
	TenantID int64
	Codes    []string
}

func (e *AccountsNotFoundError) Error() string {
	return fmt.Sprintf("ledger: accounts not found for tenant %d: %s", e.TenantID, strings.Join(e.Codes, ", "))
}

func (e *AccountsNotFoundError) Unwrap() error { return ErrAccountsNotFound }

// UnbalancedEntryError carries the mismatching totals.
type UnbalancedEntryError struct {
	Debit  int64
	Credit int64
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("ledger: unbalanced entry: debit=%d credit=%d", e.Debit, e.Credit)
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalancedEntry }

// PeriodLockedError carries the inclusive lock cutoff.
type PeriodLockedError struct {
	LockEndDate time.Time
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("ledger: period locked through %s", e.LockEndDate.Format(time.DateOnly))
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }
