package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const testTenant int64 = 7

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	a.logs = append(a.logs, log)
	a.mu.Unlock()
	return nil
}

func day(value string) time.Time {
	t, err := shared.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return t
}

func saleInput(sourceID string, date time.Time, amount int64) PostingInput {
	return PostingInput{
		TenantID:   testTenant,
		SourceType: "payment",
		SourceID:   sourceID,
		EntryDate:  date,
		Memo:       "cash sale",
		Lines: []PostingLine{
			{AccountCode: "CASH_ON_HAND", Debit: amount},
			{AccountCode: "SALES", Credit: amount},
		},
	}
}

func seededRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.addAccount(testTenant, "CASH_ON_HAND", AccountTypeAsset, nil)
	repo.addAccount(testTenant, "SALES", AccountTypeIncome, nil)
	return repo
}

func TestPostRecordsBalancedEntry(t *testing.T) {
	repo := seededRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)
	ctx := shared.ContextWithActor(context.Background(), 42)

	entry, err := svc.Post(ctx, saleInput("pay-1", day("2024-02-10"), 1000))
	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	debit, credit := entry.Totals()
	require.Equal(t, int64(1000), debit)
	require.Equal(t, debit, credit)

	balances := NewBalanceService(repo, nil, nil)
	cash, err := balances.GetBalance(context.Background(), BalanceQuery{TenantID: testTenant, AccountCode: "CASH_ON_HAND"})
	require.NoError(t, err)
	require.Equal(t, int64(1000), cash.Balance)
	sales, err := balances.GetBalance(context.Background(), BalanceQuery{TenantID: testTenant, AccountCode: "SALES"})
	require.NoError(t, err)
	require.Equal(t, int64(-1000), sales.Balance)
	require.Equal(t, int64(1000), sales.Normalized())

	require.Len(t, audit.logs, 1)
	require.Equal(t, int64(42), audit.logs[0].ActorID)
	require.Equal(t, "journal.post", audit.logs[0].Action)
}

func TestPostIsIdempotentPerSource(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	first, err := svc.Post(ctx, saleInput("pay-1", day("2024-02-10"), 1000))
	require.NoError(t, err)
	second, err := svc.Post(ctx, saleInput("pay-1", day("2024-02-10"), 5000))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	entries, err := svc.ListEntries(ctx, EntryFilter{TenantID: testTenant})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPostConcurrentSameSourceCreatesOneEntry(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.Post(ctx, saleInput("pay-race", day("2024-02-10"), 300))
			if err == nil {
				ids <- entry.ID.String()
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1)
	entries, err := svc.ListEntries(ctx, EntryFilter{TenantID: testTenant})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPostRejectsUnbalanced(t *testing.T) {
	svc := NewService(seededRepo(), nil, nil)
	input := saleInput("pay-2", day("2024-02-10"), 1000)
	input.Lines[1].Credit = 900

	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrUnbalancedEntry)
	var unbalanced *UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	require.Equal(t, int64(1000), unbalanced.Debit)
	require.Equal(t, int64(900), unbalanced.Credit)
}

func TestPostReportsMissingAccountsBeforeBalance(t *testing.T) {
	svc := NewService(seededRepo(), nil, nil)
	input := saleInput("pay-3", day("2024-02-10"), 1000)
	input.Lines = append(input.Lines, PostingLine{AccountCode: "TAX_PAYABLE", Credit: 10})

	_, err := svc.Post(context.Background(), input)
	var missing *AccountsNotFoundError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{"TAX_PAYABLE"}, missing.Codes)
	require.ErrorIs(t, err, ErrAccountsNotFound)
}

func TestPostRespectsPeriodLock(t *testing.T) {
	repo := seededRepo()
	repo.setLock(testTenant, day("2024-01-31"))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Post(ctx, saleInput("pay-jan", day("2024-01-31"), 100))
	require.ErrorIs(t, err, ErrPeriodLocked)
	var locked *PeriodLockedError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, day("2024-01-31"), locked.LockEndDate)

	_, err = svc.Post(ctx, saleInput("pay-feb", day("2024-02-01"), 100))
	require.NoError(t, err)
}

func TestPostCreatesLockRowBeforeFirstTransaction(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	require.False(t, repo.hasLockRow(testTenant))

	_, err := svc.Post(ctx, saleInput("pay-first", day("2024-02-01"), 100))
	require.NoError(t, err)
	require.True(t, repo.hasLockRow(testTenant))

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.LockEndDate(ctx, testTenant+1)
		return err
	})
	require.ErrorContains(t, err, "period lock row missing")
}

func TestPostRejectsParentAccount(t *testing.T) {
	repo := seededRepo()
	repo.addParent(testTenant, "CASH", AccountTypeAsset)
	svc := NewService(repo, nil, nil)
	input := saleInput("pay-4", day("2024-02-10"), 100)
	input.Lines[0].AccountCode = "CASH"

	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrParentAccountPosting)
}

func TestPostValidatesShape(t *testing.T) {
	svc := NewService(seededRepo(), nil, nil)
	ctx := context.Background()

	single := saleInput("pay-5", day("2024-02-10"), 100)
	single.Lines = single.Lines[:1]
	_, err := svc.Post(ctx, single)
	require.ErrorIs(t, err, ErrUnbalancedEntry)
	var unbalanced *UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
	require.Equal(t, int64(100), unbalanced.Debit)
	require.Zero(t, unbalanced.Credit)

	unknown := saleInput("pay-5b", day("2024-02-10"), 100)
	unknown.Lines = unknown.Lines[:1]
	unknown.Lines[0].AccountCode = "PETTY_CASH"
	_, err = svc.Post(ctx, unknown)
	require.ErrorIs(t, err, ErrAccountsNotFound)

	empty := saleInput("pay-5c", day("2024-02-10"), 100)
	empty.Lines = nil
	_, err = svc.Post(ctx, empty)
	require.ErrorIs(t, err, ErrTooFewLines)

	both := saleInput("pay-6", day("2024-02-10"), 100)
	both.Lines[0].Credit = 100
	_, err = svc.Post(ctx, both)
	require.ErrorIs(t, err, ErrInvalidPosting)

	noKey := saleInput("", day("2024-02-10"), 100)
	_, err = svc.Post(ctx, noKey)
	require.ErrorIs(t, err, ErrInvalidPosting)
}

func TestAccountServiceEnsureChart(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewAccountService(repo, nil)
	ctx := context.Background()
	chart := []ChartAccount{
		{Code: "CASH_ON_HAND", Name: "Cash on hand", Type: AccountTypeAsset, Parent: "CASH"},
		{Code: "CASH", Name: "Cash", Type: AccountTypeAsset, IsParent: true},
		{Code: "SALES", Name: "Sales", Type: AccountTypeIncome},
	}

	created, err := svc.EnsureChart(ctx, testTenant, chart)
	require.NoError(t, err)
	require.Equal(t, 3, created)

	created, err = svc.EnsureChart(ctx, testTenant, chart)
	require.NoError(t, err)
	require.Zero(t, created)

	sub, err := svc.FindByCode(ctx, testTenant, "CASH_ON_HAND")
	require.NoError(t, err)
	require.True(t, sub.IsSubAccount())
	require.Equal(t, NormalBalanceDebit, sub.NormalBalance)

	sales, err := svc.FindByCode(ctx, testTenant, "SALES")
	require.NoError(t, err)
	require.Equal(t, NormalBalanceCredit, sales.NormalBalance)

	err = svc.VerifyChart(ctx, testTenant, []string{"SALES", "ACCOUNTS_PAYABLE"})
	var missing *AccountsNotFoundError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{"ACCOUNTS_PAYABLE"}, missing.Codes)
}

func TestAccountServiceRejectsNonParentParent(t *testing.T) {
	repo := newMemoryRepo()
	repo.addAccount(testTenant, "SALES", AccountTypeIncome, nil)
	svc := NewAccountService(repo, nil)

	_, err := svc.Create(context.Background(), AccountInput{
		TenantID:   testTenant,
		Code:       "SALES_ONLINE",
		Name:       "Online sales",
		Type:       AccountTypeIncome,
		ParentCode: "SALES",
	})
	require.ErrorIs(t, err, ErrInvalidAccount)
}
