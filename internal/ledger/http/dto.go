package ledgerhttp

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type postEntryRequest struct {
	SourceType string            `json:"sourceType" validate:"required,max=64"`
	SourceID   string            `json:"sourceId" validate:"required,max=128"`
	EntryDate  string            `json:"entryDate" validate:"required,datetime=2006-01-02"`
	Memo       string            `json:"memo" validate:"max=500"`
	Lines      []postLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type postLineRequest struct {
	AccountCode string          `json:"accountCode" validate:"required,max=64"`
	Debit       int64           `json:"debit" validate:"gte=0"`
	Credit      int64           `json:"credit" validate:"gte=0"`
	Meta        ledger.LineMeta `json:"meta"`
}

func (req postEntryRequest) toInput(tenantID int64, entryDate time.Time) ledger.PostingInput {
	lines := make([]ledger.PostingLine, len(req.Lines))
	for idx, line := range req.Lines {
		lines[idx] = ledger.PostingLine{
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Meta:        line.Meta,
		}
	}
	return ledger.PostingInput{
		TenantID:   tenantID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		EntryDate:  entryDate,
		Memo:       req.Memo,
		Lines:      lines,
	}
}

type entryResponse struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    int64          `json:"tenantId"`
	EntryDate   string         `json:"entryDate"`
	Memo        string         `json:"memo,omitempty"`
	SourceType  string         `json:"sourceType"`
	SourceID    string         `json:"sourceId"`
	PostedAt    time.Time      `json:"postedAt"`
	DebitTotal  int64          `json:"debitTotal"`
	CreditTotal int64          `json:"creditTotal"`
	Lines       []lineResponse `json:"lines"`
}

type lineResponse struct {
	ID          uuid.UUID       `json:"id"`
	AccountCode string          `json:"accountCode"`
	Debit       int64           `json:"debit"`
	Credit      int64           `json:"credit"`
	Meta        ledger.LineMeta `json:"meta"`
}

func toEntryResponse(entry ledger.JournalEntry) entryResponse {
	debit, credit := entry.Totals()
	lines := make([]lineResponse, len(entry.Lines))
	for idx, line := range entry.Lines {
		lines[idx] = lineResponse{
			ID:          line.ID,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Meta:        line.Meta,
		}
	}
	return entryResponse{
		ID:          entry.ID,
		TenantID:    entry.TenantID,
		EntryDate:   shared.FormatDate(entry.EntryDate),
		Memo:        entry.Memo,
		SourceType:  entry.SourceType,
		SourceID:    entry.SourceID,
		PostedAt:    entry.PostedAt,
		DebitTotal:  debit,
		CreditTotal: credit,
		Lines:       lines,
	}
}

type createAccountRequest struct {
	Code       string `json:"code" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Type       string `json:"type" validate:"required,oneof=asset liability equity income expense"`
	IsParent   bool   `json:"isParent"`
	ParentCode string `json:"parentCode" validate:"omitempty,max=64"`
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type accountResponse struct {
	ID              uuid.UUID            `json:"id"`
	Code            string               `json:"code"`
	Name            string               `json:"name"`
	Type            ledger.AccountType   `json:"type"`
	NormalBalance   ledger.NormalBalance `json:"normalBalance"`
	IsActive        bool                 `json:"isActive"`
	IsParent        bool                 `json:"isParent"`
	ParentAccountID *uuid.UUID           `json:"parentAccountId,omitempty"`
}

func toAccountResponse(account ledger.Account) accountResponse {
	return accountResponse{
		ID:              account.ID,
		Code:            account.Code,
		Name:            account.Name,
		Type:            account.Type,
		NormalBalance:   account.NormalBalance,
		IsActive:        account.IsActive,
		IsParent:        account.IsParent,
		ParentAccountID: account.ParentAccountID,
	}
}

type balanceResponse struct {
	ledger.Balance
	Normalized int64             `json:"normalizedBalance"`
	From       string            `json:"from,omitempty"`
	AsOf       string            `json:"asOf,omitempty"`
	Filter     ledger.LineFilter `json:"filter"`
	Amount     *decimal.Decimal  `json:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Display    string            `json:"display,omitempty"`
}
