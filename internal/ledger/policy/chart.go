package policy

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// DefaultChart returns the chart of accounts every POS tenant needs.
func DefaultChart() []ledger.ChartAccount {
	return []ledger.ChartAccount{
		{Code: Cash, Name: "Cash", Type: ledger.AccountTypeAsset, IsParent: true},
		{Code: CashOnHand, Name: "Cash on Hand", Type: ledger.AccountTypeAsset, Parent: Cash},
		{Code: BankMain, Name: "Bank - Main", Type: ledger.AccountTypeAsset, Parent: Cash},
		{Code: ClearingMpesa, Name: "Clearing - M-Pesa", Type: ledger.AccountTypeAsset, Parent: Cash},
		{Code: ClearingCredit, Name: "Clearing - Customer Credit", Type: ledger.AccountTypeAsset},
		{Code: ClearingGeneric, Name: "Clearing - Generic", Type: ledger.AccountTypeAsset},
		{Code: Sales, Name: "Sales Revenue", Type: ledger.AccountTypeIncome},
		{Code: SalesReturns, Name: "Sales Returns", Type: ledger.AccountTypeIncome},
		{Code: AccountsReceivable, Name: "Accounts Receivable", Type: ledger.AccountTypeAsset},
		{Code: AccountsPayable, Name: "Accounts Payable", Type: ledger.AccountTypeLiability},
		{Code: TaxPayable, Name: "Taxes Payable", Type: ledger.AccountTypeLiability},
		{Code: Purchases, Name: "Inventory Purchases", Type: ledger.AccountTypeExpense},
		{Code: Expenses, Name: "General Expenses", Type: ledger.AccountTypeExpense},
		{Code: ProcessorFees, Name: "Payment Processor Fees", Type: ledger.AccountTypeExpense},
		{Code: CashShortOver, Name: "Cash Short/Over", Type: ledger.AccountTypeExpense},
		{Code: Inventory, Name: "Inventory", Type: ledger.AccountTypeAsset},
		{Code: InventoryWriteOff, Name: "Inventory Write-off", Type: ledger.AccountTypeExpense},
	}
}

// RequiredCodes lists the posting accounts the templates can reference.
func RequiredCodes() []string {
	chart := DefaultChart()
	codes := make([]string, 0, len(chart))
	for _, row := range chart {
		if !row.IsParent {
			codes = append(codes, row.Code)
		}
	}
	return codes
}

type chartFile struct {
	Accounts []ledger.ChartAccount `yaml:"accounts"`
}

// LoadChart decodes a YAML chart of accounts. Rows override the defaults by
// code; new codes are appended.
func LoadChart(r io.Reader) ([]ledger.ChartAccount, error) {
	var file chartFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("policy: decode chart: %w", err)
	}
	chart := DefaultChart()
	index := make(map[string]int, len(chart))
	for idx, row := range chart {
		index[row.Code] = idx
	}
	for _, row := range file.Accounts {
		if !row.Type.Valid() {
			return nil, fmt.Errorf("policy: chart account %s: unknown type %q", row.Code, row.Type)
		}
		if idx, ok := index[row.Code]; ok {
			chart[idx] = row
			continue
		}
		index[row.Code] = len(chart)
		chart = append(chart, row)
	}
	return chart, nil
}
