package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
	entries  []JournalEntry
	lockEnd  map[int64]time.Time
	lockRows map[int64]bool
	sums     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[uuid.UUID]Account),
		lockEnd:  make(map[int64]time.Time),
		lockRows: make(map[int64]bool),
	}
}

func (r *memoryRepo) addAccount(tenantID int64, code string, typ AccountType, parent *Account) Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := Account{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Code:          code,
		Name:          code,
		Type:          typ,
		NormalBalance: typ.NormalBalance(),
		IsActive:      true,
	}
	if parent != nil {
		account.ParentAccountID = &parent.ID
	}
	r.accounts[account.ID] = account
	return account
}

func (r *memoryRepo) addParent(tenantID int64, code string, typ AccountType) Account {
	account := r.addAccount(tenantID, code, typ, nil)
	r.mu.Lock()
	account.IsParent = true
	r.accounts[account.ID] = account
	r.mu.Unlock()
	return account
}

func (r *memoryRepo) setLock(tenantID int64, end time.Time) {
	r.mu.Lock()
	r.lockEnd[tenantID] = end
	r.lockRows[tenantID] = true
	r.mu.Unlock()
}

func (r *memoryRepo) EnsurePeriodLock(_ context.Context, tenantID int64) error {
	r.mu.Lock()
	r.lockRows[tenantID] = true
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) hasLockRow(tenantID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockRows[tenantID]
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.entry != nil {
		r.entries = append(r.entries, *tx.entry)
	}
	return nil
}

func (r *memoryRepo) findBySource(tenantID int64, sourceType, sourceID string) (JournalEntry, bool) {
	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.SourceType == sourceType && entry.SourceID == sourceID {
			return entry, true
		}
	}
	return JournalEntry{}, false
}

func (r *memoryRepo) FindEntryBySource(_ context.Context, tenantID int64, sourceType, sourceID string) (JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.findBySource(tenantID, sourceType, sourceID)
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (r *memoryRepo) GetEntry(_ context.Context, tenantID int64, id uuid.UUID) (JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.ID == id {
			return entry, nil
		}
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (r *memoryRepo) ListEntries(_ context.Context, filter EntryFilter) ([]JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []JournalEntry
	for _, entry := range r.entries {
		if entry.TenantID != filter.TenantID {
			continue
		}
		if filter.SourceType != "" && entry.SourceType != filter.SourceType {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *memoryRepo) GetAccountByCode(_ context.Context, tenantID int64, code string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.TenantID == tenantID && account.Code == code {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (r *memoryRepo) ListAccounts(_ context.Context, tenantID int64) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Account
	for _, account := range r.accounts {
		if account.TenantID == tenantID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) InsertAccount(_ context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.TenantID == account.TenantID && existing.Code == account.Code {
			return Account{}, ErrDuplicateAccount
		}
	}
	account.ID = uuid.New()
	r.accounts[account.ID] = account
	return account, nil
}

func (r *memoryRepo) SetAccountActive(_ context.Context, tenantID int64, code string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, account := range r.accounts {
		if account.TenantID == tenantID && account.Code == code {
			account.IsActive = active
			r.accounts[id] = account
			return nil
		}
	}
	return ErrAccountNotFound
}

func (r *memoryRepo) ListSubAccounts(_ context.Context, tenantID int64, parentID uuid.UUID) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Account
	for _, account := range r.accounts {
		if account.TenantID == tenantID && account.ParentAccountID != nil && *account.ParentAccountID == parentID {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *memoryRepo) SumLines(_ context.Context, q LineSumQuery) (LineTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sums++
	var totals LineTotals
	for _, entry := range r.entries {
		if entry.TenantID != q.TenantID {
			continue
		}
		if q.From != nil && entry.EntryDate.Before(*q.From) {
			continue
		}
		if q.AsOf != nil && entry.EntryDate.After(*q.AsOf) {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID != q.AccountID {
				continue
			}
			if q.Filter.OrderID != "" && line.Meta.OrderID != q.Filter.OrderID {
				continue
			}
			if q.Filter.CustomerID != "" && line.Meta.CustomerID != q.Filter.CustomerID {
				continue
			}
			if q.Filter.SupplierID != "" && line.Meta.SupplierID != q.Filter.SupplierID {
				continue
			}
			totals.Debit += line.Debit
			totals.Credit += line.Credit
		}
	}
	return totals, nil
}

func (r *memoryRepo) sumCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sums
}

type memoryTx struct {
	repo  *memoryRepo
	entry *JournalEntry
}

func (tx *memoryTx) AccountsByCodes(_ context.Context, tenantID int64, codes []string) ([]Account, error) {
	want := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		want[code] = struct{}{}
	}
	var out []Account
	for _, account := range tx.repo.accounts {
		if _, ok := want[account.Code]; ok && account.TenantID == tenantID && account.IsActive {
			out = append(out, account)
		}
	}
	return out, nil
}

// LockEndDate mirrors FOR SHARE: without a committed row there is nothing to
// lock, so a missing row is an error rather than "unlocked".
func (tx *memoryTx) LockEndDate(_ context.Context, tenantID int64) (*time.Time, error) {
	if !tx.repo.lockRows[tenantID] {
		return nil, fmt.Errorf("period lock row missing for tenant %d", tenantID)
	}
	end, ok := tx.repo.lockEnd[tenantID]
	if !ok {
		return nil, nil
	}
	return &end, nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	if _, exists := tx.repo.findBySource(entry.TenantID, entry.SourceType, entry.SourceID); exists {
		return JournalEntry{}, ErrSourceConflict
	}
	entry.ID = uuid.New()
	entry.PostedAt = time.Now()
	tx.entry = &entry
	return entry, nil
}

func (tx *memoryTx) InsertLines(_ context.Context, entry JournalEntry, lines []JournalLine) ([]JournalLine, error) {
	out := make([]JournalLine, len(lines))
	for idx, line := range lines {
		line.ID = uuid.New()
		line.EntryID = entry.ID
		line.TenantID = entry.TenantID
		out[idx] = line
	}
	tx.entry.Lines = out
	return out, nil
}
