package ledgerhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type stubPostings struct {
	postFn  func(ctx context.Context, in ledger.PostingInput) (ledger.JournalEntry, error)
	entries map[uuid.UUID]ledger.JournalEntry
	actor   int64
}

func (s *stubPostings) Post(ctx context.Context, in ledger.PostingInput) (ledger.JournalEntry, error) {
	s.actor = shared.ActorFromContext(ctx)
	return s.postFn(ctx, in)
}

func (s *stubPostings) GetEntry(_ context.Context, _ int64, id uuid.UUID) (ledger.JournalEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return ledger.JournalEntry{}, ledger.ErrEntryNotFound
	}
	return entry, nil
}

func (s *stubPostings) FindBySource(_ context.Context, _ int64, sourceType, sourceID string) (ledger.JournalEntry, error) {
	for _, entry := range s.entries {
		if entry.SourceType == sourceType && entry.SourceID == sourceID {
			return entry, nil
		}
	}
	return ledger.JournalEntry{}, ledger.ErrEntryNotFound
}

func (s *stubPostings) ListEntries(context.Context, ledger.EntryFilter) ([]ledger.JournalEntry, error) {
	out := make([]ledger.JournalEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

type stubAccounts struct {
	accounts map[string]ledger.Account
}

func (s *stubAccounts) FindByCode(_ context.Context, _ int64, code string) (ledger.Account, error) {
	account, ok := s.accounts[code]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (s *stubAccounts) List(context.Context, int64) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, account)
	}
	return out, nil
}

func (s *stubAccounts) Create(_ context.Context, in ledger.AccountInput) (ledger.Account, error) {
	if _, ok := s.accounts[in.Code]; ok {
		return ledger.Account{}, ledger.ErrDuplicateAccount
	}
	account := ledger.Account{ID: uuid.New(), TenantID: in.TenantID, Code: in.Code, Name: in.Name,
		Type: in.Type, NormalBalance: in.Type.NormalBalance(), IsActive: true, IsParent: in.IsParent}
	s.accounts[in.Code] = account
	return account, nil
}

func (s *stubAccounts) SetActive(_ context.Context, _ int64, code string, active bool) error {
	account, ok := s.accounts[code]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	account.IsActive = active
	s.accounts[code] = account
	return nil
}

type stubBalances struct {
	balance     ledger.Balance
	last        ledger.BalanceQuery
	invalidated []int64
}

func (s *stubBalances) GetBalance(_ context.Context, q ledger.BalanceQuery) (ledger.Balance, error) {
	s.last = q
	if q.AccountCode != s.balance.AccountCode {
		return ledger.Balance{}, ledger.ErrAccountNotFound
	}
	return s.balance, nil
}

func (s *stubBalances) Invalidate(_ context.Context, tenantID int64) error {
	s.invalidated = append(s.invalidated, tenantID)
	return nil
}

type stubEvents struct {
	err     error
	tenant  int64
	payload string
}

func (s *stubEvents) Dispatch(_ context.Context, kind string, tenantID int64, payload []byte) (ledger.JournalEntry, error) {
	s.tenant = tenantID
	s.payload = string(payload)
	if s.err != nil {
		return ledger.JournalEntry{}, s.err
	}
	return ledger.JournalEntry{ID: uuid.New(), TenantID: tenantID, SourceType: kind, SourceID: "p-1"}, nil
}

type fixture struct {
	postings *stubPostings
	accounts *stubAccounts
	balances *stubBalances
	events   *stubEvents
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	formatter, err := money.NewFormatter(2, "KES", "en")
	require.NoError(t, err)
	f := &fixture{
		postings: &stubPostings{entries: make(map[uuid.UUID]ledger.JournalEntry)},
		accounts: &stubAccounts{accounts: map[string]ledger.Account{
			"CASH_ON_HAND": {ID: uuid.New(), Code: "CASH_ON_HAND", Name: "Cash on Hand", Type: ledger.AccountTypeAsset,
				NormalBalance: ledger.NormalBalanceDebit, IsActive: true},
		}},
		balances: &stubBalances{},
		events:   &stubEvents{},
	}
	h := NewHandler(nil, f.postings, f.accounts, f.balances, f.events, formatter)
	r := chi.NewRouter()
	r.Use(httpx.Actor)
	r.Route("/api/v1/tenants/{tenantID}", h.MountRoutes)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

const saleBody = `{"sourceType":"payment","sourceId":"pay-1","entryDate":"2024-02-01","lines":[
{"accountCode":"CASH_ON_HAND","debit":1000,"meta":{"orderId":"o-1"}},
{"accountCode":"SALES","credit":1000}]}`

func TestPostEntryCreatesAndInvalidatesBalances(t *testing.T) {
	f := newFixture(t)
	var got ledger.PostingInput
	f.postings.postFn = func(_ context.Context, in ledger.PostingInput) (ledger.JournalEntry, error) {
		got = in
		return ledger.JournalEntry{
			ID: uuid.New(), TenantID: in.TenantID, EntryDate: in.EntryDate, SourceType: in.SourceType, SourceID: in.SourceID,
			Lines: []ledger.JournalLine{{AccountCode: "CASH_ON_HAND", Debit: 1000}, {AccountCode: "SALES", Credit: 1000}},
		}, nil
	}

	rr := f.do(t, http.MethodPost, "/api/v1/tenants/7/entries", saleBody, httpx.ActorHeader, "42")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Equal(t, int64(7), got.TenantID)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), got.EntryDate)
	require.Equal(t, "o-1", got.Lines[0].Meta.OrderID)
	require.Equal(t, int64(42), f.postings.actor)
	require.Equal(t, []int64{7}, f.balances.invalidated)

	body := decodeBody(t, rr)
	require.Equal(t, "2024-02-01", body["entryDate"])
	require.Equal(t, float64(1000), body["debitTotal"])
	require.Equal(t, float64(1000), body["creditTotal"])
}

func TestPostEntryRendersDomainProblems(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		key    string
		want   any
	}{
		{"missing accounts", &ledger.AccountsNotFoundError{TenantID: 7, Codes: []string{"SALES"}}, http.StatusUnprocessableEntity,
			"missingAccounts", []any{"SALES"}},
		{"unbalanced", &ledger.UnbalancedEntryError{Debit: 1000, Credit: 900}, http.StatusUnprocessableEntity,
			"creditTotal", float64(900)},
		{"locked", &ledger.PeriodLockedError{LockEndDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}, http.StatusConflict,
			"lockEndDate", "2024-01-31"},
		{"parent", ledger.ErrParentAccountPosting, http.StatusUnprocessableEntity, "title", "Parent Account Posting"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.postings.postFn = func(context.Context, ledger.PostingInput) (ledger.JournalEntry, error) {
				return ledger.JournalEntry{}, tc.err
			}
			rr := f.do(t, http.MethodPost, "/api/v1/tenants/7/entries", saleBody)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			require.Equal(t, tc.want, decodeBody(t, rr)[tc.key])
			require.Empty(t, f.balances.invalidated)
		})
	}
}

func TestPostEntryValidatesRequest(t *testing.T) {
	f := newFixture(t)
	f.postings.postFn = func(context.Context, ledger.PostingInput) (ledger.JournalEntry, error) {
		t.Fatal("post must not be called")
		return ledger.JournalEntry{}, nil
	}

	rr := f.do(t, http.MethodPost, "/api/v1/tenants/7/entries",
		`{"sourceType":"payment","entryDate":"2024-02-01","lines":[{"accountCode":"CASH_ON_HAND","debit":1}]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "sourceId")

	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/entries", `{"bogus":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/tenants/x/entries", saleBody)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/entries", saleBody, httpx.ActorHeader, "abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEntryLookups(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.postings.entries[id] = ledger.JournalEntry{ID: id, TenantID: 7, SourceType: "payment", SourceID: "pay-1"}

	rr := f.do(t, http.MethodGet, "/api/v1/tenants/7/entries/"+id.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "pay-1", decodeBody(t, rr)["sourceId"])

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/entries/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/entries/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/entries?sourceType=payment&sourceId=pay-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decodeBody(t, rr)["entries"], 1)

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/entries?sourceType=payment&sourceId=none", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decodeBody(t, rr)["entries"])
}

func TestAccountEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/tenants/7/accounts", `{"code":"SALES","name":"Sales","type":"income"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "credit", decodeBody(t, rr)["normalBalance"])

	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/accounts", `{"code":"SALES","name":"Sales","type":"income"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/accounts", `{"code":"X","name":"X","type":"revenue"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPatch, "/api/v1/tenants/7/accounts/SALES", `{"isActive":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, decodeBody(t, rr)["isActive"])

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/accounts/NOPE", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/accounts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decodeBody(t, rr)["accounts"], 2)
}

func TestGetBalanceParsesQueryAndFormats(t *testing.T) {
	f := newFixture(t)
	f.balances.balance = ledger.Balance{AccountCode: "SALES", Type: ledger.AccountTypeIncome,
		NormalBalance: ledger.NormalBalanceCredit, Credit: 100000, Balance: -100000}

	rr := f.do(t, http.MethodGet, "/api/v1/tenants/7/accounts/SALES/balance?asOf=2024-01-31&customerId=c-9", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), *f.balances.last.AsOf)
	require.Nil(t, f.balances.last.From)
	require.Equal(t, "c-9", f.balances.last.Filter.CustomerID)

	body := decodeBody(t, rr)
	require.Equal(t, float64(-100000), body["balance"])
	require.Equal(t, float64(100000), body["normalizedBalance"])
	require.Equal(t, "-1000", body["amount"])
	require.Equal(t, "KES 1,000.00", body["display"])
	require.Equal(t, "2024-01-31", body["asOf"])

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/accounts/SALES/balance?asOf=31-01-2024", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/tenants/7/accounts/NOPE/balance", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPostEventDispatchesWithPathTenant(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/tenants/7/events/payment", `{"paymentId":"p-1"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, int64(7), f.events.tenant)
	require.JSONEq(t, `{"paymentId":"p-1"}`, f.events.payload)
	require.Equal(t, true, decodeBody(t, rr)["posted"])

	f.events.err = integration.ErrNothingToPost
	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/events/cash_short_over", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, decodeBody(t, rr)["posted"])

	f.events.err = &integration.InvalidEventError{Kind: "payment", Fields: map[string]string{"Amount": "gt"}}
	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/events/payment", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, map[string]any{"Amount": "gt"}, decodeBody(t, rr)["fields"])

	f.events.err = integration.ErrUnknownEvent
	rr = f.do(t, http.MethodPost, "/api/v1/tenants/7/events/teleport", `{}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
