package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
)

var (
	ErrUnknownEvent = errors.New("integration: unknown event kind")
	ErrInvalidEvent = errors.New("integration: invalid event payload")
)

// InvalidEventError lists the event fields that failed validation.
type InvalidEventError struct {
	Kind   string
	Fields map[string]string
}

func (e *InvalidEventError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("integration: invalid %s event: %s", e.Kind, strings.Join(names, ", "))
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// Dispatcher decodes raw event payloads and routes them to the matching hook.
type Dispatcher struct {
	hooks    *Hooks
	validate *validator.Validate
}

// NewDispatcher builds a Dispatcher over hooks.
func NewDispatcher(hooks *Hooks) *Dispatcher {
	return &Dispatcher{hooks: hooks, validate: validator.New()}
}

// Kinds lists the event kinds accepted by Dispatch.
func Kinds() []string {
	return []string{
		policy.SourcePayment,
		policy.SourceCreditSale,
		policy.SourcePaymentAllocation,
		policy.SourceSupplierPurchase,
		policy.SourceSupplierPayment,
		policy.SourceRefund,
		policy.SourceStockWriteOff,
		policy.SourceCashShortOver,
		policy.SourceProcessorFee,
	}
}

// Dispatch posts the journal entry for a JSON event of the given kind. When
// tenantID is positive it overrides the tenant carried in the payload.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, tenantID int64, payload []byte) (ledger.JournalEntry, error) {
	switch kind {
	case policy.SourcePayment:
		var evt PaymentEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandlePayment(ctx, evt)
	case policy.SourceCreditSale:
		var evt CreditSaleEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleCreditSale(ctx, evt)
	case policy.SourcePaymentAllocation:
		var evt PaymentAllocationEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandlePaymentAllocation(ctx, evt)
	case policy.SourceSupplierPurchase:
		var evt SupplierPurchaseEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleSupplierPurchase(ctx, evt)
	case policy.SourceSupplierPayment:
		var evt SupplierPaymentEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleSupplierPayment(ctx, evt)
	case policy.SourceRefund:
		var evt RefundEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleRefund(ctx, evt)
	case policy.SourceStockWriteOff:
		var evt StockWriteOffEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleStockWriteOff(ctx, evt)
	case policy.SourceCashShortOver:
		var evt CashSessionClosedEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleCashSessionClosed(ctx, evt)
	case policy.SourceProcessorFee:
		var evt ProcessorFeeEvent
		if err := d.decode(kind, payload, tenantID, &evt, &evt.TenantID); err != nil {
			return ledger.JournalEntry{}, err
		}
		return d.hooks.HandleProcessorFee(ctx, evt)
	default:
		return ledger.JournalEntry{}, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
}

func (d *Dispatcher) decode(kind string, payload []byte, tenantID int64, target any, tenantField *int64) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if tenantID > 0 {
		*tenantField = tenantID
	}
	if err := d.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		return &InvalidEventError{Kind: kind, Fields: fields}
	}
	return nil
}
