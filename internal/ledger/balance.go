package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Well-known account codes used by the convenience balance queries.
const (
	codeAccountsReceivable = "ACCOUNTS_RECEIVABLE"
	codeAccountsPayable    = "ACCOUNTS_PAYABLE"
	codeSales              = "SALES"
	codePurchases          = "PURCHASES"
	codeExpenses           = "EXPENSES"
)

// maxHierarchyDepth bounds parent/sub recursion.
const maxHierarchyDepth = 8

// LineFilter narrows balance queries on typed line metadata.
type LineFilter struct {
	OrderID    string `json:"orderId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	SupplierID string `json:"supplierId,omitempty"`
}

// BalanceQuery identifies a balance computation.
type BalanceQuery struct {
	TenantID    int64
	AccountCode string
	From        *time.Time
	AsOf        *time.Time
	Filter      LineFilter
}

// Validate checks the query shape.
func (q BalanceQuery) Validate() error {
	if q.TenantID <= 0 {
		return fmt.Errorf("%w: tenant required", ErrInvalidQuery)
	}
	if strings.TrimSpace(q.AccountCode) == "" {
		return fmt.Errorf("%w: account code required", ErrInvalidQuery)
	}
	if q.From != nil && q.AsOf != nil && q.From.After(*q.AsOf) {
		return fmt.Errorf("%w: from date after as-of date", ErrInvalidQuery)
	}
	return nil
}

// Balance is the computed position of an account. Balance is always
// Debit minus Credit regardless of account type.
type Balance struct {
	AccountCode   string        `json:"accountCode"`
	AccountName   string        `json:"accountName"`
	Type          AccountType   `json:"type"`
	NormalBalance NormalBalance `json:"normalBalance"`
	IsParent      bool          `json:"isParent"`
	Debit         int64         `json:"debitTotal"`
	Credit        int64         `json:"creditTotal"`
	Balance       int64         `json:"balance"`
}

// Normalized returns the balance signed so that the account's normal side is positive.
func (b Balance) Normalized() int64 {
	return b.Balance * b.NormalBalance.Sign()
}

// BalanceService computes point-in-time account balances with optional caching.
type BalanceService struct {
	reader  BalanceReader
	cache   BalanceCache
	metrics *CacheMetrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewBalanceService constructs the balance engine. cache may be nil.
func NewBalanceService(reader BalanceReader, cache BalanceCache, logger *slog.Logger) *BalanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceService{reader: reader, cache: cache, logger: logger}
}

// WithMetrics attaches cache instrumentation.
func (s *BalanceService) WithMetrics(metrics *CacheMetrics) {
	s.metrics = metrics
}

// GetBalance returns the balance of an account, rolling up sub-accounts for parents.
func (s *BalanceService) GetBalance(ctx context.Context, q BalanceQuery) (Balance, error) {
	q.AccountCode = strings.TrimSpace(q.AccountCode)
	if err := q.Validate(); err != nil {
		return Balance{}, err
	}
	q = normalizeQuery(q)
	if s.cache == nil {
		return s.compute(ctx, q)
	}
	key, err := s.cache.Key(ctx, q)
	if err != nil {
		s.logger.Warn("balance cache key", slog.Int64("tenant_id", q.TenantID), slog.Any("error", err))
		return s.compute(ctx, q)
	}
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("balance cache get", slog.String("key", key), slog.Any("error", err))
	}
	if ok {
		s.metrics.hit(q.TenantID)
		return cached, nil
	}
	s.metrics.miss(q.TenantID)

	ch := s.group.DoChan(key, func() (any, error) {
		start := time.Now()
		balance, err := s.compute(ctx, q)
		if err != nil {
			return Balance{}, err
		}
		s.metrics.observe(q.TenantID, time.Since(start))
		if err := s.cache.Set(ctx, key, balance); err != nil {
			s.logger.Warn("balance cache set", slog.String("key", key), slog.Any("error", err))
		}
		return balance, nil
	})
	select {
	case <-ctx.Done():
		return Balance{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Balance{}, res.Err
		}
		return res.Val.(Balance), nil
	}
}

// Invalidate drops every cached balance of the tenant.
func (s *BalanceService) Invalidate(ctx context.Context, tenantID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, tenantID)
}

// CustomerBalance returns what the customer owes, never negative.
func (s *BalanceService) CustomerBalance(ctx context.Context, tenantID int64, customerID string) (int64, error) {
	b, err := s.GetBalance(ctx, BalanceQuery{TenantID: tenantID, AccountCode: codeAccountsReceivable, Filter: LineFilter{CustomerID: customerID}})
	if err != nil {
		return 0, err
	}
	return max(0, b.Balance), nil
}

// SupplierBalance returns what is owed to the supplier.
func (s *BalanceService) SupplierBalance(ctx context.Context, tenantID int64, supplierID string) (int64, error) {
	b, err := s.GetBalance(ctx, BalanceQuery{TenantID: tenantID, AccountCode: codeAccountsPayable, Filter: LineFilter{SupplierID: supplierID}})
	if err != nil {
		return 0, err
	}
	return abs(b.Balance), nil
}

// SalesTotal returns total sales recognised in the range.
func (s *BalanceService) SalesTotal(ctx context.Context, tenantID int64, from, to *time.Time) (int64, error) {
	b, err := s.GetBalance(ctx, BalanceQuery{TenantID: tenantID, AccountCode: codeSales, From: from, AsOf: to})
	if err != nil {
		return 0, err
	}
	return abs(b.Balance), nil
}

// PurchaseTotal returns purchases recorded in the range.
func (s *BalanceService) PurchaseTotal(ctx context.Context, tenantID int64, from, to *time.Time) (int64, error) {
	b, err := s.GetBalance(ctx, BalanceQuery{TenantID: tenantID, AccountCode: codePurchases, From: from, AsOf: to})
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// ExpenseTotal returns general expenses recorded in the range.
func (s *BalanceService) ExpenseTotal(ctx context.Context, tenantID int64, from, to *time.Time) (int64, error) {
	b, err := s.GetBalance(ctx, BalanceQuery{TenantID: tenantID, AccountCode: codeExpenses, From: from, AsOf: to})
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

func (s *BalanceService) compute(ctx context.Context, q BalanceQuery) (Balance, error) {
	account, err := s.reader.GetAccountByCode(ctx, q.TenantID, q.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	totals, err := s.accountTotals(ctx, q, account, map[uuid.UUID]struct{}{}, 0)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountCode:   account.Code,
		AccountName:   account.Name,
		Type:          account.Type,
		NormalBalance: account.NormalBalance,
		IsParent:      account.IsParent,
		Debit:         totals.Debit,
		Credit:        totals.Credit,
		Balance:       totals.Debit - totals.Credit,
	}, nil
}

func (s *BalanceService) accountTotals(ctx context.Context, q BalanceQuery, account Account, visited map[uuid.UUID]struct{}, depth int) (LineTotals, error) {
	if depth > maxHierarchyDepth {
		return LineTotals{}, fmt.Errorf("ledger: account hierarchy under %s too deep", q.AccountCode)
	}
	if _, seen := visited[account.ID]; seen {
		return LineTotals{}, nil
	}
	visited[account.ID] = struct{}{}
	if !account.IsParent {
		return s.reader.SumLines(ctx, LineSumQuery{
			TenantID:  q.TenantID,
			AccountID: account.ID,
			From:      q.From,
			AsOf:      q.AsOf,
			Filter:    q.Filter,
		})
	}
	subs, err := s.reader.ListSubAccounts(ctx, q.TenantID, account.ID)
	if err != nil {
		return LineTotals{}, err
	}
	var total LineTotals
	for _, sub := range subs {
		t, err := s.accountTotals(ctx, q, sub, visited, depth+1)
		if err != nil {
			return LineTotals{}, err
		}
		total.Debit += t.Debit
		total.Credit += t.Credit
	}
	return total, nil
}

func normalizeQuery(q BalanceQuery) BalanceQuery {
	if q.From != nil {
		from := shared.DateOf(*q.From)
		q.From = &from
	}
	if q.AsOf != nil {
		asOf := shared.DateOf(*q.AsOf)
		q.AsOf = &asOf
	}
	q.Filter.OrderID = strings.TrimSpace(q.Filter.OrderID)
	q.Filter.CustomerID = strings.TrimSpace(q.Filter.CustomerID)
	q.Filter.SupplierID = strings.TrimSpace(q.Filter.SupplierID)
	return q
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
