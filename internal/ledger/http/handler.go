package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	maxEventBytes   = 1 << 20
	entriesPageSize = 100
)

// PostingService is the posting engine contract used by the handler.
type PostingService interface {
	Post(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
	GetEntry(ctx context.Context, tenantID int64, id uuid.UUID) (ledger.JournalEntry, error)
	FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (ledger.JournalEntry, error)
	ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.JournalEntry, error)
}

// AccountService manages the chart of accounts.
type AccountService interface {
	FindByCode(ctx context.Context, tenantID int64, code string) (ledger.Account, error)
	List(ctx context.Context, tenantID int64) ([]ledger.Account, error)
	Create(ctx context.Context, in ledger.AccountInput) (ledger.Account, error)
	SetActive(ctx context.Context, tenantID int64, code string, active bool) error
}

// BalanceService computes balances and drops cached results after postings.
type BalanceService interface {
	GetBalance(ctx context.Context, q ledger.BalanceQuery) (ledger.Balance, error)
	Invalidate(ctx context.Context, tenantID int64) error
}

// EventDispatcher posts business events through the posting policy.
type EventDispatcher interface {
	Dispatch(ctx context.Context, kind string, tenantID int64, payload []byte) (ledger.JournalEntry, error)
}

// Handler serves the ledger JSON API.
type Handler struct {
	logger   *slog.Logger
	postings PostingService
	accounts AccountService
	balances BalanceService
	events   EventDispatcher
	money    *money.Formatter
}

// NewHandler constructs the ledger HTTP handler. events and formatter may be nil.
func NewHandler(logger *slog.Logger, postings PostingService, accounts AccountService, balances BalanceService, events EventDispatcher, formatter *money.Formatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		postings: postings,
		accounts: accounts,
		balances: balances,
		events:   events,
		money:    formatter,
	}
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	entryDate, err := shared.ParseDate(req.EntryDate)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: entryDate: %v", httpx.ErrValidation, err))
		return
	}
	entry, err := h.postings.Post(r.Context(), req.toInput(tenantID, entryDate))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidate(r.Context(), tenantID)
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: entryID must be a UUID", httpx.ErrValidation))
		return
	}
	entry, err := h.postings.GetEntry(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	query := r.URL.Query()
	sourceType := strings.TrimSpace(query.Get("sourceType"))
	sourceID := strings.TrimSpace(query.Get("sourceId"))
	if sourceID != "" {
		if sourceType == "" {
			h.respondError(w, r, fmt.Errorf("%w: sourceType required with sourceId", httpx.ErrValidation))
			return
		}
		entry, err := h.postings.FindBySource(r.Context(), tenantID, sourceType, sourceID)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			httpx.JSON(w, http.StatusOK, map[string]any{"entries": []entryResponse{}})
			return
		}
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": []entryResponse{toEntryResponse(entry)}})
		return
	}

	filter := ledger.EntryFilter{TenantID: tenantID, SourceType: sourceType}
	if filter.From, err = shared.ParseOptionalDate(query.Get("from")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: from: %v", httpx.ErrValidation, err))
		return
	}
	if filter.To, err = shared.ParseOptionalDate(query.Get("to")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: to: %v", httpx.ErrValidation, err))
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", entriesPageSize); err != nil {
		h.respondError(w, r, err)
		return
	}
	if filter.Offset, err = httpx.QueryInt(r, "offset", 0); err != nil {
		h.respondError(w, r, err)
		return
	}
	if filter.Limit <= 0 || filter.Limit > entriesPageSize {
		filter.Limit = entriesPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	entries, err := h.postings.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]entryResponse, len(entries))
	for idx, entry := range entries {
		out[idx] = toEntryResponse(entry)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	accounts, err := h.accounts.List(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]accountResponse, len(accounts))
	for idx, account := range accounts {
		out[idx] = toAccountResponse(account)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	account, err := h.accounts.Create(r.Context(), ledger.AccountInput{
		TenantID:   tenantID,
		Code:       req.Code,
		Name:       req.Name,
		Type:       ledger.AccountType(req.Type),
		IsParent:   req.IsParent,
		ParentCode: req.ParentCode,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	account, err := h.accounts.FindByCode(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) setAccountActive(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req setActiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		h.respondError(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.accounts.SetActive(r.Context(), tenantID, code, *req.IsActive); err != nil {
		h.respondError(w, r, err)
		return
	}
	account, err := h.accounts.FindByCode(r.Context(), tenantID, code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	query := r.URL.Query()
	q := ledger.BalanceQuery{
		TenantID:    tenantID,
		AccountCode: chi.URLParam(r, "code"),
		Filter: ledger.LineFilter{
			OrderID:    query.Get("orderId"),
			CustomerID: query.Get("customerId"),
			SupplierID: query.Get("supplierId"),
		},
	}
	if q.AsOf, err = shared.ParseOptionalDate(query.Get("asOf")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: asOf: %v", httpx.ErrValidation, err))
		return
	}
	if q.From, err = shared.ParseOptionalDate(query.Get("from")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: from: %v", httpx.ErrValidation, err))
		return
	}
	balance, err := h.balances.GetBalance(r.Context(), q)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := balanceResponse{
		Balance:    balance,
		Normalized: balance.Normalized(),
		From:       shared.FormatOptionalDate(q.From),
		AsOf:       shared.FormatOptionalDate(q.AsOf),
		Filter:     q.Filter,
	}
	if h.money != nil {
		amount := h.money.Major(balance.Balance)
		resp.Amount = &amount
		resp.Currency = h.money.Currency()
		resp.Display = h.money.Format(balance.Normalized())
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "event posting disabled")
		return
	}
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	kind := chi.URLParam(r, "kind")
	entry, err := h.events.Dispatch(r.Context(), kind, tenantID, payload)
	if errors.Is(err, integration.ErrNothingToPost) {
		httpx.JSON(w, http.StatusOK, map[string]any{"posted": false, "kind": kind})
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"posted": true, "kind": kind, "entry": toEntryResponse(entry)})
}

func (h *Handler) invalidate(ctx context.Context, tenantID int64) {
	if h.balances == nil {
		return
	}
	if err := h.balances.Invalidate(ctx, tenantID); err != nil {
		h.logger.Warn("invalidate balance cache", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

// respondError maps ledger failures to problem responses with detail members.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing    *ledger.AccountsNotFoundError
		unbalanced *ledger.UnbalancedEntryError
		locked     *ledger.PeriodLockedError
		invalidEvt *integration.InvalidEventError
	)
	switch {
	case errors.As(err, &missing):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Accounts Not Found", err.Error(),
			map[string]any{"missingAccounts": missing.Codes})
	case errors.As(err, &unbalanced):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Unbalanced Entry", err.Error(),
			map[string]any{"debitTotal": unbalanced.Debit, "creditTotal": unbalanced.Credit})
	case errors.As(err, &locked):
		httpx.ProblemWith(w, http.StatusConflict, "Period Locked", err.Error(),
			map[string]any{"lockEndDate": shared.FormatDate(locked.LockEndDate)})
	case errors.As(err, &invalidEvt):
		httpx.ProblemWith(w, http.StatusBadRequest, "Invalid Event", err.Error(),
			map[string]any{"fields": invalidEvt.Fields})
	case errors.Is(err, ledger.ErrParentAccountPosting):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Parent Account Posting", err.Error())
	case errors.Is(err, ledger.ErrEntryNotFound), errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, integration.ErrUnknownEvent):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrDuplicateAccount):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ledger.ErrInvalidPosting), errors.Is(err, ledger.ErrTooFewLines),
		errors.Is(err, ledger.ErrAmountOverflow), errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrInvalidQuery), errors.Is(err, integration.ErrInvalidEvent):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		var verr *httpx.ValidationError
		if !errors.As(err, &verr) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("ledger request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func tenantParam(r *http.Request) (int64, error) {
	return httpx.URLInt64(r, "tenantID")
}
