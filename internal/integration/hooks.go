package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	Post(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
	FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (ledger.JournalEntry, error)
}

// ChartVerifier checks that the accounts a template needs exist.
type ChartVerifier interface {
	VerifyChart(ctx context.Context, tenantID int64, codes []string) error
}

// BalanceInvalidator drops cached balances after a posting.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// ErrNothingToPost marks events that produce no journal entry.
var ErrNothingToPost = errors.New("integration: event produces no journal entry")

// Hooks wires POS business events into the general ledger.
type Hooks struct {
	ledger   Ledger
	chart    ChartVerifier
	balances BalanceInvalidator
	logger   *slog.Logger
}

// NewHooks constructs integration hooks. chart and balances may be nil.
func NewHooks(ledger Ledger, chart ChartVerifier, balances BalanceInvalidator, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, chart: chart, balances: balances, logger: logger}
}

// adjustmentSourceID derives a stable source id for events without a natural key.
func adjustmentSourceID(code, productID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("ADJ:%s:%s", code, productID))).String()
}

// post replays the stored entry for an already-posted source before building
// the template, so redelivered events succeed even after the chart or the
// posting rules changed.
func (h *Hooks) post(ctx context.Context, tenantID int64, sourceType, sourceID string, date time.Time, build func() (policy.Template, error)) (ledger.JournalEntry, error) {
	if h == nil || h.ledger == nil {
		return ledger.JournalEntry{}, errors.New("integration: ledger not configured")
	}
	if sourceID == "" {
		return ledger.JournalEntry{}, errors.New("integration: source id required")
	}
	existing, err := h.ledger.FindBySource(ctx, tenantID, sourceType, sourceID)
	if err == nil {
		h.logger.Debug("event already posted",
			slog.Int64("tenant_id", tenantID),
			slog.String("source_type", sourceType),
			slog.String("source_id", sourceID))
		return existing, nil
	}
	if !errors.Is(err, ledger.ErrEntryNotFound) {
		return ledger.JournalEntry{}, err
	}
	if date.IsZero() {
		return ledger.JournalEntry{}, fmt.Errorf("integration: %s date required", sourceType)
	}
	tpl, err := build()
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if h.chart != nil {
		if err := h.chart.VerifyChart(ctx, tenantID, tpl.AccountCodes()); err != nil {
			return ledger.JournalEntry{}, err
		}
	}
	entry, err := h.ledger.Post(ctx, ledger.PostingInput{
		TenantID:   tenantID,
		SourceType: sourceType,
		SourceID:   sourceID,
		EntryDate:  date,
		Memo:       tpl.Memo,
		Lines:      tpl.Lines,
	})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if h.balances != nil {
		if err := h.balances.Invalidate(ctx, tenantID); err != nil {
			h.logger.Warn("balance cache invalidate", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return entry, nil
}

// HandlePayment posts a customer payment.
func (h *Hooks) HandlePayment(ctx context.Context, evt PaymentEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourcePayment, evt.PaymentID, evt.PaidAt, func() (policy.Template, error) {
		return policy.PaymentEntry(policy.PaymentContext{
			Amount:     evt.Amount,
			Method:     evt.Method,
			OrderID:    evt.OrderID,
			OrderCode:  orderCode(evt.OrderCode, evt.OrderID),
			CustomerID: evt.CustomerID,
		})
	})
}

// HandleCreditSale posts a sale fulfilled on credit.
func (h *Hooks) HandleCreditSale(ctx context.Context, evt CreditSaleEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourceCreditSale, evt.OrderID, evt.FulfilledAt, func() (policy.Template, error) {
		return policy.CreditSaleEntry(policy.SaleContext{
			Amount:       evt.Amount,
			OrderID:      evt.OrderID,
			OrderCode:    orderCode(evt.OrderCode, evt.OrderID),
			CustomerID:   evt.CustomerID,
			IsCreditSale: true,
		})
	})
}

// HandlePaymentAllocation posts a payment against outstanding credit.
func (h *Hooks) HandlePaymentAllocation(ctx context.Context, evt PaymentAllocationEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourcePaymentAllocation, evt.AllocationID, evt.AllocatedAt, func() (policy.Template, error) {
		return policy.PaymentAllocationEntry(policy.PaymentContext{
			Amount:     evt.Amount,
			Method:     evt.Method,
			OrderID:    evt.OrderID,
			OrderCode:  orderCode(evt.OrderCode, evt.OrderID),
			CustomerID: evt.CustomerID,
		})
	})
}

// HandleSupplierPurchase posts a credit purchase. Cash purchases produce no
// payable and return ErrNothingToPost.
func (h *Hooks) HandleSupplierPurchase(ctx context.Context, evt SupplierPurchaseEvent) (ledger.JournalEntry, error) {
	if !evt.IsCredit {
		return ledger.JournalEntry{}, ErrNothingToPost
	}
	return h.post(ctx, evt.TenantID, policy.SourceSupplierPurchase, evt.PurchaseID, evt.PurchasedAt, func() (policy.Template, error) {
		return policy.SupplierPurchaseEntry(policy.PurchaseContext{
			Amount:           evt.Amount,
			PurchaseID:       evt.PurchaseID,
			Reference:        orderCode(evt.Reference, evt.PurchaseID),
			SupplierID:       evt.SupplierID,
			IsCreditPurchase: true,
		})
	})
}

// HandleSupplierPayment posts a payment to a supplier.
func (h *Hooks) HandleSupplierPayment(ctx context.Context, evt SupplierPaymentEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourceSupplierPayment, evt.PaymentID, evt.PaidAt, func() (policy.Template, error) {
		return policy.SupplierPaymentEntry(policy.SupplierPaymentContext{
			Amount:     evt.Amount,
			PurchaseID: evt.PurchaseID,
			Reference:  orderCode(evt.Reference, evt.PurchaseID),
			SupplierID: evt.SupplierID,
			Method:     evt.Method,
		})
	})
}

// HandleRefund posts money returned to a customer.
func (h *Hooks) HandleRefund(ctx context.Context, evt RefundEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourceRefund, evt.RefundID, evt.RefundedAt, func() (policy.Template, error) {
		return policy.RefundEntry(policy.RefundContext{
			Amount:            evt.Amount,
			OrderID:           evt.OrderID,
			OrderCode:         orderCode(evt.OrderCode, evt.OrderID),
			OriginalPaymentID: evt.OriginalPaymentID,
			Method:            evt.Method,
		})
	})
}

// HandleStockWriteOff posts inventory written off by an adjustment.
func (h *Hooks) HandleStockWriteOff(ctx context.Context, evt StockWriteOffEvent) (ledger.JournalEntry, error) {
	sourceID := adjustmentSourceID(evt.AdjustmentCode, evt.ProductID)
	return h.post(ctx, evt.TenantID, policy.SourceStockWriteOff, sourceID, evt.PostedAt, func() (policy.Template, error) {
		return policy.StockWriteOffEntry(policy.StockWriteOffContext{
			Amount:    evt.Amount,
			Reference: evt.AdjustmentCode,
			Reason:    evt.Reason,
		})
	})
}

// HandleCashSessionClosed books the drawer variance of a closed session.
// Sessions that balance exactly return ErrNothingToPost.
func (h *Hooks) HandleCashSessionClosed(ctx context.Context, evt CashSessionClosedEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourceCashShortOver, evt.SessionID, evt.ClosedAt, func() (policy.Template, error) {
		tpl, err := policy.CashShortOverEntry(policy.CashShortOverContext{
			SessionID: evt.SessionID,
			Method:    evt.Method,
			Expected:  evt.Expected,
			Counted:   evt.Counted,
		})
		if errors.Is(err, policy.ErrNoVariance) {
			return policy.Template{}, ErrNothingToPost
		}
		return tpl, err
	})
}

// HandleProcessorFee posts a processor fee withheld from a payment.
func (h *Hooks) HandleProcessorFee(ctx context.Context, evt ProcessorFeeEvent) (ledger.JournalEntry, error) {
	return h.post(ctx, evt.TenantID, policy.SourceProcessorFee, evt.PaymentID, evt.ChargedAt, func() (policy.Template, error) {
		return policy.ProcessorFeeEntry(policy.ProcessorFeeContext{
			Amount:    evt.Amount,
			Method:    evt.Method,
			Reference: evt.PaymentID,
		})
	})
}

func orderCode(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}
