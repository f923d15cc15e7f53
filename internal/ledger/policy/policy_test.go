package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

func balanced(t *testing.T, tpl Template) {
	t.Helper()
	var debit, credit int64
	for _, line := range tpl.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	require.Equal(t, debit, credit, "template must balance")
	require.GreaterOrEqual(t, len(tpl.Lines), 2)
}

func TestClearingAccountFor(t *testing.T) {
	cases := map[string]string{
		"cash-payment":  CashOnHand,
		"cash-1":        CashOnHand,
		"CASH":          CashOnHand,
		"mpesa-payment": ClearingMpesa,
		"credit-2":      ClearingCredit,
		"card-visa":     ClearingGeneric,
		"":              ClearingGeneric,
	}
	for method, want := range cases {
		require.Equal(t, want, ClearingAccountFor(method), method)
	}
}

func TestPaymentEntry(t *testing.T) {
	tpl, err := PaymentEntry(PaymentContext{Amount: 1000, Method: "cash-payment", OrderID: "o-1", OrderCode: "SO-1", CustomerID: "c-1"})
	require.NoError(t, err)
	balanced(t, tpl)
	require.Equal(t, CashOnHand, tpl.Lines[0].AccountCode)
	require.Equal(t, int64(1000), tpl.Lines[0].Debit)
	require.Equal(t, "c-1", tpl.Lines[0].Meta.CustomerID)
	require.Equal(t, Sales, tpl.Lines[1].AccountCode)
	require.Equal(t, int64(1000), tpl.Lines[1].Credit)
	require.Equal(t, "o-1", tpl.Lines[1].Meta.OrderID)
	require.Contains(t, tpl.Memo, "SO-1")

	_, err = PaymentEntry(PaymentContext{Amount: 0, Method: "cash"})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreditSaleEntry(t *testing.T) {
	_, err := CreditSaleEntry(SaleContext{Amount: 10, IsCreditSale: false})
	require.ErrorIs(t, err, ErrNotCreditSale)

	tpl, err := CreditSaleEntry(SaleContext{Amount: 500, OrderID: "o-2", OrderCode: "SO-2", CustomerID: "c-9", IsCreditSale: true})
	require.NoError(t, err)
	balanced(t, tpl)
	require.Equal(t, AccountsReceivable, tpl.Lines[0].AccountCode)
	require.Equal(t, "c-9", tpl.Lines[0].Meta.CustomerID)
	require.Equal(t, Sales, tpl.Lines[1].AccountCode)
}

func TestPaymentAllocationEntry(t *testing.T) {
	tpl, err := PaymentAllocationEntry(PaymentContext{Amount: 300, Method: "mpesa-payment", OrderID: "o-3", CustomerID: "c-1"})
	require.NoError(t, err)
	balanced(t, tpl)
	require.Equal(t, ClearingMpesa, tpl.Lines[0].AccountCode)
	require.Equal(t, AccountsReceivable, tpl.Lines[1].AccountCode)
	require.Equal(t, int64(300), tpl.Lines[1].Credit)
	require.Equal(t, "c-1", tpl.Lines[1].Meta.CustomerID)
}

func TestSupplierTemplates(t *testing.T) {
	_, err := SupplierPurchaseEntry(PurchaseContext{Amount: 10})
	require.ErrorIs(t, err, ErrNotCreditPurchase)

	purchase, err := SupplierPurchaseEntry(PurchaseContext{Amount: 700, PurchaseID: "p-1", Reference: "PO-1", SupplierID: "s-1", IsCreditPurchase: true})
	require.NoError(t, err)
	balanced(t, purchase)
	require.Equal(t, Purchases, purchase.Lines[0].AccountCode)
	require.Equal(t, AccountsPayable, purchase.Lines[1].AccountCode)
	require.Equal(t, "s-1", purchase.Lines[1].Meta.SupplierID)

	payment, err := SupplierPaymentEntry(SupplierPaymentContext{Amount: 700, PurchaseID: "p-1", Reference: "PO-1", SupplierID: "s-1", Method: "cash-payment"})
	require.NoError(t, err)
	balanced(t, payment)
	require.Equal(t, AccountsPayable, payment.Lines[0].AccountCode)
	require.Equal(t, int64(700), payment.Lines[0].Debit)
	require.Equal(t, CashOnHand, payment.Lines[1].AccountCode)
	require.Equal(t, "cash-payment", payment.Lines[1].Meta.PaymentMethod)
}

func TestRefundEntry(t *testing.T) {
	tpl, err := RefundEntry(RefundContext{Amount: 200, OrderID: "o-1", OrderCode: "SO-1", OriginalPaymentID: "pay-1", Method: "credit-payment"})
	require.NoError(t, err)
	balanced(t, tpl)
	require.Equal(t, SalesReturns, tpl.Lines[0].AccountCode)
	require.Equal(t, ClearingCredit, tpl.Lines[1].AccountCode)
	require.Equal(t, int64(200), tpl.Lines[1].Credit)
}

func TestCashShortOverEntry(t *testing.T) {
	short, err := CashShortOverEntry(CashShortOverContext{SessionID: "s-1", Method: "cash", Expected: 1000, Counted: 950})
	require.NoError(t, err)
	balanced(t, short)
	require.Equal(t, CashShortOver, short.Lines[0].AccountCode)
	require.Equal(t, int64(50), short.Lines[0].Debit)
	require.Equal(t, CashOnHand, short.Lines[1].AccountCode)

	over, err := CashShortOverEntry(CashShortOverContext{SessionID: "s-2", Expected: 1000, Counted: 1020})
	require.NoError(t, err)
	balanced(t, over)
	require.Equal(t, CashOnHand, over.Lines[0].AccountCode)
	require.Equal(t, CashShortOver, over.Lines[1].AccountCode)
	require.Equal(t, int64(20), over.Lines[1].Credit)

	_, err = CashShortOverEntry(CashShortOverContext{Expected: 5, Counted: 5})
	require.ErrorIs(t, err, ErrNoVariance)
}

func TestStockWriteOffAndProcessorFee(t *testing.T) {
	writeOff, err := StockWriteOffEntry(StockWriteOffContext{Amount: 90, Reference: "ADJ-1", Reason: "expired"})
	require.NoError(t, err)
	balanced(t, writeOff)
	require.Equal(t, InventoryWriteOff, writeOff.Lines[0].AccountCode)
	require.Equal(t, Inventory, writeOff.Lines[1].AccountCode)
	require.Contains(t, writeOff.Memo, "expired")

	fee, err := ProcessorFeeEntry(ProcessorFeeContext{Amount: 15, Method: "mpesa-payment", Reference: "pay-7"})
	require.NoError(t, err)
	balanced(t, fee)
	require.Equal(t, ProcessorFees, fee.Lines[0].AccountCode)
	require.Equal(t, ClearingMpesa, fee.Lines[1].AccountCode)
	require.Equal(t, []string{ProcessorFees, ClearingMpesa}, fee.AccountCodes())
}

func TestDefaultChartCoversTemplates(t *testing.T) {
	chart := DefaultChart()
	codes := map[string]ledger.ChartAccount{}
	for _, row := range chart {
		codes[row.Code] = row
	}
	for _, code := range RequiredCodes() {
		row, ok := codes[code]
		require.True(t, ok, code)
		require.False(t, row.IsParent)
		if row.Parent != "" {
			require.True(t, codes[row.Parent].IsParent)
		}
	}
	require.True(t, codes[Cash].IsParent)
	require.NotContains(t, RequiredCodes(), Cash)
}

func TestLoadChartOverrides(t *testing.T) {
	input := `
accounts:
  - code: SALES
    name: Revenue
    type: income
  - code: DELIVERY_INCOME
    name: Delivery income
    type: income
`
	chart, err := LoadChart(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, chart, len(DefaultChart())+1)
	var sales ledger.ChartAccount
	for _, row := range chart {
		if row.Code == Sales {
			sales = row
		}
	}
	require.Equal(t, "Revenue", sales.Name)
	require.Equal(t, "DELIVERY_INCOME", chart[len(chart)-1].Code)

	_, err = LoadChart(strings.NewReader("accounts:\n  - code: X\n    name: X\n    type: weird\n"))
	require.Error(t, err)

	empty, err := LoadChart(strings.NewReader(""))
	require.NoError(t, err)
	require.Len(t, empty, len(DefaultChart()))
}
