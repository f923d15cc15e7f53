package closehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/recon"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const periodsPageLimit = 100

// LockService reads and moves the tenant posting lock.
type LockService interface {
	GetLock(ctx context.Context, tenantID int64) (*close.PeriodLock, error)
	SetLock(ctx context.Context, tenantID int64, lockEndDate time.Time, actorID int64) (close.PeriodLock, error)
}

// PeriodService closes and opens accounting periods.
type PeriodService interface {
	ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]close.Period, error)
	Status(ctx context.Context, tenantID int64) (close.PeriodStatus, error)
	ClosePeriod(ctx context.Context, in close.ClosePeriodInput) (close.CloseResult, error)
	OpenPeriod(ctx context.Context, in close.OpenPeriodInput) (close.Period, error)
}

// ReconService records and verifies reconciliations.
type ReconService interface {
	Create(ctx context.Context, in recon.CreateInput) (recon.Reconciliation, error)
	Verify(ctx context.Context, tenantID int64, id uuid.UUID, actorID int64) (recon.Reconciliation, error)
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (recon.Reconciliation, error)
	Status(ctx context.Context, tenantID int64, periodEndDate time.Time) (recon.PeriodStatus, error)
}

// ReconValidator checks reconciliation completeness for a period end.
type ReconValidator interface {
	Validate(ctx context.Context, tenantID int64, periodEndDate time.Time) (recon.ValidationResult, error)
}

// Handler wires HTTP endpoints for locks, periods and reconciliations.
type Handler struct {
	logger    *slog.Logger
	locks     LockService
	periods   PeriodService
	recons    ReconService
	validator ReconValidator
}

// NewHandler constructs the period-close handler.
func NewHandler(logger *slog.Logger, locks LockService, periods PeriodService, recons ReconService, validator ReconValidator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, locks: locks, periods: periods, recons: recons, validator: validator}
}

type lockRequest struct {
	LockEndDate string `json:"lockEndDate" validate:"required,datetime=2006-01-02"`
}

type closeRequest struct {
	EndDate string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

type openRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
}

type reconciliationRequest struct {
	Scope           string `json:"scope" validate:"required,oneof=cash-session method bank inventory"`
	ScopeRefID      string `json:"scopeRefId" validate:"required,max=128"`
	RangeStart      string `json:"rangeStart" validate:"required,datetime=2006-01-02"`
	RangeEnd        string `json:"rangeEnd" validate:"required,datetime=2006-01-02"`
	ExpectedBalance *int64 `json:"expectedBalance"`
	ActualBalance   *int64 `json:"actualBalance" validate:"required"`
	Notes           string `json:"notes" validate:"max=1000"`
}

type lockResponse struct {
	TenantID    int64      `json:"tenantId"`
	LockEndDate *string    `json:"lockEndDate"`
	LockedBy    int64      `json:"lockedBy,omitempty"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
}

func toLockResponse(tenantID int64, lock *close.PeriodLock) lockResponse {
	resp := lockResponse{TenantID: tenantID}
	if lock == nil || lock.LockEndDate == nil {
		return resp
	}
	end := shared.FormatDate(*lock.LockEndDate)
	lockedAt := lock.LockedAt
	resp.LockEndDate = &end
	resp.LockedBy = lock.LockedBy
	resp.LockedAt = &lockedAt
	return resp
}

func (h *Handler) getLock(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	lock, err := h.locks.GetLock(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLockResponse(tenantID, lock))
}

func (h *Handler) setLock(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req lockRequest
	if err := decodeValid(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	end, err := shared.ParseDate(req.LockEndDate)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: lockEndDate: %v", httpx.ErrValidation, err))
		return
	}
	lock, err := h.locks.SetLock(r.Context(), tenantID, end, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLockResponse(tenantID, &lock))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	periods, err := h.periods.ListPeriods(r.Context(), tenantID, periodsPageLimit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if periods == nil {
		periods = []close.Period{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) periodStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status, err := h.periods.Status(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req closeRequest
	if err := decodeValid(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	end, err := shared.ParseDate(req.EndDate)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: endDate: %v", httpx.ErrValidation, err))
		return
	}
	result, err := h.periods.ClosePeriod(r.Context(), close.ClosePeriodInput{
		TenantID: tenantID,
		EndDate:  end,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) openPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req openRequest
	if err := decodeValid(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	start, err := shared.ParseDate(req.StartDate)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: startDate: %v", httpx.ErrValidation, err))
		return
	}
	period, err := h.periods.OpenPeriod(r.Context(), close.OpenPeriodInput{
		TenantID:  tenantID,
		StartDate: start,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) createReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req reconciliationRequest
	if err := decodeValid(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	start, err := shared.ParseDate(req.RangeStart)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: rangeStart: %v", httpx.ErrValidation, err))
		return
	}
	end, err := shared.ParseDate(req.RangeEnd)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: rangeEnd: %v", httpx.ErrValidation, err))
		return
	}
	rec, err := h.recons.Create(r.Context(), recon.CreateInput{
		TenantID:        tenantID,
		Scope:           recon.Scope(req.Scope),
		ScopeRefID:      req.ScopeRefID,
		RangeStart:      start,
		RangeEnd:        end,
		ExpectedBalance: req.ExpectedBalance,
		ActualBalance:   *req.ActualBalance,
		Notes:           req.Notes,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) getReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := reconParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rec, err := h.recons.Get(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) verifyReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := reconParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rec, err := h.recons.Verify(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listReconciliations(w http.ResponseWriter, r *http.Request) {
	tenantID, date, err := periodEndParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status, err := h.recons.Status(r.Context(), tenantID, date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) validateReconciliations(w http.ResponseWriter, r *http.Request) {
	tenantID, date, err := periodEndParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.validator.Validate(r.Context(), tenantID, date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *close.ReconciliationIncompleteError
	switch {
	case errors.As(err, &incomplete):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Reconciliation Incomplete", err.Error(), map[string]any{
			"periodEndDate": shared.FormatDate(incomplete.PeriodEndDate),
			"missingScopes": incomplete.Missing,
		})
	case errors.Is(err, close.ErrAlreadyClosed):
		httpx.Problem(w, http.StatusConflict, "Period Already Closed", err.Error())
	case errors.Is(err, close.ErrPreviousPeriodOpen):
		httpx.Problem(w, http.StatusConflict, "Previous Period Open", err.Error())
	case errors.Is(err, close.ErrInvalidPeriodRange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Period Range", err.Error())
	case errors.Is(err, shared.ErrInvalidPeriodTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Period Transition", err.Error())
	case errors.Is(err, close.ErrInvalidLock), errors.Is(err, recon.ErrInvalidReconciliation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, recon.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("close request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func decodeValid(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(target)
}

func tenantParam(r *http.Request) (int64, error) {
	return httpx.URLInt64(r, "tenantID")
}

func reconParams(r *http.Request) (int64, uuid.UUID, error) {
	tenantID, err := tenantParam(r)
	if err != nil {
		return 0, uuid.Nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "reconID"))
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: reconciliation id must be a UUID", httpx.ErrValidation)
	}
	return tenantID, id, nil
}

func periodEndParams(r *http.Request) (int64, time.Time, error) {
	tenantID, err := tenantParam(r)
	if err != nil {
		return 0, time.Time{}, err
	}
	date, err := shared.ParseDate(r.URL.Query().Get("periodEndDate"))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: periodEndDate: %v", httpx.ErrValidation, err)
	}
	return tenantID, date, nil
}
