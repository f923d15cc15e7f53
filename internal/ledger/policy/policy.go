// Package policy maps POS business events to journal entry templates. Every
// function is pure: it returns lines and a memo, and never touches storage.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Account codes referenced by the templates.
const (
	Cash               = "CASH"
	CashOnHand         = "CASH_ON_HAND"
	BankMain           = "BANK_MAIN"
	ClearingMpesa      = "CLEARING_MPESA"
	ClearingCredit     = "CLEARING_CREDIT"
	ClearingGeneric    = "CLEARING_GENERIC"
	Sales              = "SALES"
	SalesReturns       = "SALES_RETURNS"
	AccountsReceivable = "ACCOUNTS_RECEIVABLE"
	AccountsPayable    = "ACCOUNTS_PAYABLE"
	TaxPayable         = "TAX_PAYABLE"
	Purchases          = "PURCHASES"
	Expenses           = "EXPENSES"
	ProcessorFees      = "PROCESSOR_FEES"
	CashShortOver      = "CASH_SHORT_OVER"
	Inventory          = "INVENTORY"
	InventoryWriteOff  = "INVENTORY_WRITE_OFF"
)

// Source types identifying the business event behind an entry.
const (
	SourcePayment           = "payment"
	SourceCreditSale        = "credit_sale"
	SourcePaymentAllocation = "payment_allocation"
	SourceSupplierPurchase  = "supplier_purchase"
	SourceSupplierPayment   = "supplier_payment"
	SourceRefund            = "refund"
	SourceStockWriteOff     = "stock_write_off"
	SourceCashShortOver     = "cash_short_over"
	SourceProcessorFee      = "processor_fee"
)

var (
	ErrInvalidAmount     = errors.New("policy: amount must be positive")
	ErrNotCreditSale     = errors.New("policy: credit sale template used for a non-credit sale")
	ErrNotCreditPurchase = errors.New("policy: supplier purchase template used for a non-credit purchase")
	ErrNoVariance        = errors.New("policy: counted cash equals expected cash")
)

// Template is the set of lines and memo produced for one business event.
type Template struct {
	Lines []ledger.PostingLine
	Memo  string
}

// ClearingAccountFor maps a payment method code to the account receiving the
// funds. The handler is the prefix before the first "-", so "cash-payment"
// and "cash-1" both resolve to CASH_ON_HAND.
func ClearingAccountFor(methodCode string) string {
	handler, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(methodCode)), "-")
	switch handler {
	case "cash":
		return CashOnHand
	case "mpesa":
		return ClearingMpesa
	case "credit":
		return ClearingCredit
	default:
		return ClearingGeneric
	}
}

// PaymentContext describes a customer payment against an order.
type PaymentContext struct {
	Amount     int64
	Method     string
	OrderID    string
	OrderCode  string
	CustomerID string
}

// SaleContext describes a fulfilled sale.
type SaleContext struct {
	Amount       int64
	OrderID      string
	OrderCode    string
	CustomerID   string
	IsCreditSale bool
}

// PurchaseContext describes a supplier purchase.
type PurchaseContext struct {
	Amount           int64
	PurchaseID       string
	Reference        string
	SupplierID       string
	IsCreditPurchase bool
}

// SupplierPaymentContext describes a payment made to a supplier.
type SupplierPaymentContext struct {
	Amount     int64
	PurchaseID string
	Reference  string
	SupplierID string
	Method     string
}

// RefundContext describes money returned to a customer.
type RefundContext struct {
	Amount            int64
	OrderID           string
	OrderCode         string
	OriginalPaymentID string
	Method            string
}

// StockWriteOffContext describes inventory written off at cost.
type StockWriteOffContext struct {
	Amount    int64
	Reference string
	Reason    string
}

// CashShortOverContext describes a counted cashier session.
type CashShortOverContext struct {
	SessionID string
	Method    string
	Expected  int64
	Counted   int64
}

// ProcessorFeeContext describes a fee withheld by a payment processor.
type ProcessorFeeContext struct {
	Amount    int64
	Method    string
	Reference string
}

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}

// PaymentEntry debits the clearing account of the method and credits SALES.
func PaymentEntry(c PaymentContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: ClearingAccountFor(c.Method), Debit: c.Amount, Meta: ledger.LineMeta{
				OrderID: c.OrderID, CustomerID: c.CustomerID, PaymentMethod: c.Method, Reference: c.OrderCode,
			}},
			{AccountCode: Sales, Credit: c.Amount, Meta: ledger.LineMeta{
				OrderID: c.OrderID, PaymentMethod: c.Method, Reference: c.OrderCode,
			}},
		},
		Memo: "Payment received for order " + c.OrderCode,
	}, nil
}

// CreditSaleEntry debits ACCOUNTS_RECEIVABLE and credits SALES.
func CreditSaleEntry(c SaleContext) (Template, error) {
	if !c.IsCreditSale {
		return Template{}, ErrNotCreditSale
	}
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{OrderID: c.OrderID, CustomerID: c.CustomerID, Reference: c.OrderCode}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: AccountsReceivable, Debit: c.Amount, Meta: meta},
			{AccountCode: Sales, Credit: c.Amount, Meta: meta},
		},
		Memo: "Credit sale for order " + c.OrderCode,
	}, nil
}

// PaymentAllocationEntry settles customer credit: clearing debit, receivable credit.
func PaymentAllocationEntry(c PaymentContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: ClearingAccountFor(c.Method), Debit: c.Amount, Meta: ledger.LineMeta{
				OrderID: c.OrderID, CustomerID: c.CustomerID, PaymentMethod: c.Method, Reference: c.OrderCode,
			}},
			{AccountCode: AccountsReceivable, Credit: c.Amount, Meta: ledger.LineMeta{
				OrderID: c.OrderID, CustomerID: c.CustomerID, Reference: c.OrderCode,
			}},
		},
		Memo: "Payment allocation for order " + c.OrderCode,
	}, nil
}

// SupplierPurchaseEntry debits PURCHASES and credits ACCOUNTS_PAYABLE.
func SupplierPurchaseEntry(c PurchaseContext) (Template, error) {
	if !c.IsCreditPurchase {
		return Template{}, ErrNotCreditPurchase
	}
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{PurchaseID: c.PurchaseID, SupplierID: c.SupplierID, Reference: c.Reference}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: Purchases, Debit: c.Amount, Meta: meta},
			{AccountCode: AccountsPayable, Credit: c.Amount, Meta: meta},
		},
		Memo: "Credit purchase " + c.Reference,
	}, nil
}

// SupplierPaymentEntry debits ACCOUNTS_PAYABLE and credits the paying account.
func SupplierPaymentEntry(c SupplierPaymentContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{PurchaseID: c.PurchaseID, SupplierID: c.SupplierID, Reference: c.Reference}
	paid := meta
	paid.PaymentMethod = c.Method
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: AccountsPayable, Debit: c.Amount, Meta: meta},
			{AccountCode: ClearingAccountFor(c.Method), Credit: c.Amount, Meta: paid},
		},
		Memo: "Payment to supplier for purchase " + c.Reference,
	}, nil
}

// RefundEntry debits SALES_RETURNS and credits the original clearing account.
func RefundEntry(c RefundContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{OrderID: c.OrderID, Reference: c.OriginalPaymentID}
	paid := meta
	paid.PaymentMethod = c.Method
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: SalesReturns, Debit: c.Amount, Meta: meta},
			{AccountCode: ClearingAccountFor(c.Method), Credit: c.Amount, Meta: paid},
		},
		Memo: "Refund for order " + c.OrderCode,
	}, nil
}

// StockWriteOffEntry debits INVENTORY_WRITE_OFF and credits INVENTORY.
func StockWriteOffEntry(c StockWriteOffContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{Reference: c.Reference}
	memo := "Stock write-off " + c.Reference
	if reason := strings.TrimSpace(c.Reason); reason != "" {
		memo += ": " + reason
	}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: InventoryWriteOff, Debit: c.Amount, Meta: meta},
			{AccountCode: Inventory, Credit: c.Amount, Meta: meta},
		},
		Memo: memo,
	}, nil
}

// CashShortOverEntry books a cashier session variance. A shortage debits
// CASH_SHORT_OVER, an overage credits it.
func CashShortOverEntry(c CashShortOverContext) (Template, error) {
	if c.Expected < 0 || c.Counted < 0 {
		return Template{}, fmt.Errorf("%w: negative session totals", ErrInvalidAmount)
	}
	variance := c.Counted - c.Expected
	if variance == 0 {
		return Template{}, ErrNoVariance
	}
	drawer := ClearingAccountFor(c.Method)
	if strings.TrimSpace(c.Method) == "" {
		drawer = CashOnHand
	}
	meta := ledger.LineMeta{Reference: c.SessionID, PaymentMethod: c.Method}
	if variance < 0 {
		return Template{
			Lines: []ledger.PostingLine{
				{AccountCode: CashShortOver, Debit: -variance, Meta: meta},
				{AccountCode: drawer, Credit: -variance, Meta: meta},
			},
			Memo: "Cash shortage for session " + c.SessionID,
		}, nil
	}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: drawer, Debit: variance, Meta: meta},
			{AccountCode: CashShortOver, Credit: variance, Meta: meta},
		},
		Memo: "Cash overage for session " + c.SessionID,
	}, nil
}

// ProcessorFeeEntry debits PROCESSOR_FEES and credits the method's clearing account.
func ProcessorFeeEntry(c ProcessorFeeContext) (Template, error) {
	if err := positive(c.Amount); err != nil {
		return Template{}, err
	}
	meta := ledger.LineMeta{PaymentMethod: c.Method, Reference: c.Reference}
	return Template{
		Lines: []ledger.PostingLine{
			{AccountCode: ProcessorFees, Debit: c.Amount, Meta: meta},
			{AccountCode: ClearingAccountFor(c.Method), Credit: c.Amount, Meta: meta},
		},
		Memo: "Processor fee " + c.Reference,
	}, nil
}

// AccountCodes returns the distinct codes a template posts to.
func (t Template) AccountCodes() []string {
	seen := make(map[string]struct{}, len(t.Lines))
	codes := make([]string, 0, len(t.Lines))
	for _, line := range t.Lines {
		if _, ok := seen[line.AccountCode]; ok {
			continue
		}
		seen[line.AccountCode] = struct{}{}
		codes = append(codes, line.AccountCode)
	}
	return codes
}
