package integration

import "time"

// PaymentEvent is raised when a customer pays for an order at the till.
type PaymentEvent struct {
	TenantID   int64     `json:"tenantId" validate:"required,gt=0"`
	PaymentID  string    `json:"paymentId" validate:"required"`
	OrderID    string    `json:"orderId" validate:"required"`
	OrderCode  string    `json:"orderCode"`
	CustomerID string    `json:"customerId"`
	Method     string    `json:"method" validate:"required"`
	Amount     int64     `json:"amount" validate:"gt=0"`
	PaidAt     time.Time `json:"paidAt" validate:"required"`
}

// CreditSaleEvent is raised when an order is fulfilled on customer credit.
type CreditSaleEvent struct {
	TenantID    int64     `json:"tenantId" validate:"required,gt=0"`
	OrderID     string    `json:"orderId" validate:"required"`
	OrderCode   string    `json:"orderCode"`
	CustomerID  string    `json:"customerId" validate:"required"`
	Amount      int64     `json:"amount" validate:"gt=0"`
	FulfilledAt time.Time `json:"fulfilledAt" validate:"required"`
}

// PaymentAllocationEvent is raised when a payment settles outstanding customer credit.
type PaymentAllocationEvent struct {
	TenantID     int64     `json:"tenantId" validate:"required,gt=0"`
	AllocationID string    `json:"allocationId" validate:"required"`
	OrderID      string    `json:"orderId"`
	OrderCode    string    `json:"orderCode"`
	CustomerID   string    `json:"customerId" validate:"required"`
	Method       string    `json:"method" validate:"required"`
	Amount       int64     `json:"amount" validate:"gt=0"`
	AllocatedAt  time.Time `json:"allocatedAt" validate:"required"`
}

// SupplierPurchaseEvent is raised when stock is bought on supplier credit.
type SupplierPurchaseEvent struct {
	TenantID    int64     `json:"tenantId" validate:"required,gt=0"`
	PurchaseID  string    `json:"purchaseId" validate:"required"`
	Reference   string    `json:"reference"`
	SupplierID  string    `json:"supplierId" validate:"required"`
	Amount      int64     `json:"amount" validate:"gt=0"`
	IsCredit    bool      `json:"isCredit"`
	PurchasedAt time.Time `json:"purchasedAt" validate:"required"`
}

// SupplierPaymentEvent is raised when a supplier is paid.
type SupplierPaymentEvent struct {
	TenantID   int64     `json:"tenantId" validate:"required,gt=0"`
	PaymentID  string    `json:"paymentId" validate:"required"`
	PurchaseID string    `json:"purchaseId"`
	Reference  string    `json:"reference"`
	SupplierID string    `json:"supplierId" validate:"required"`
	Method     string    `json:"method" validate:"required"`
	Amount     int64     `json:"amount" validate:"gt=0"`
	PaidAt     time.Time `json:"paidAt" validate:"required"`
}

// RefundEvent is raised when money is returned to a customer.
type RefundEvent struct {
	TenantID          int64     `json:"tenantId" validate:"required,gt=0"`
	RefundID          string    `json:"refundId" validate:"required"`
	OrderID           string    `json:"orderId" validate:"required"`
	OrderCode         string    `json:"orderCode"`
	OriginalPaymentID string    `json:"originalPaymentId"`
	Method            string    `json:"method" validate:"required"`
	Amount            int64     `json:"amount" validate:"gt=0"`
	RefundedAt        time.Time `json:"refundedAt" validate:"required"`
}

// StockWriteOffEvent is raised when an inventory adjustment writes stock off.
type StockWriteOffEvent struct {
	TenantID       int64     `json:"tenantId" validate:"required,gt=0"`
	AdjustmentCode string    `json:"adjustmentCode" validate:"required"`
	ProductID      string    `json:"productId" validate:"required"`
	Amount         int64     `json:"amount" validate:"gt=0"`
	Reason         string    `json:"reason"`
	PostedAt       time.Time `json:"postedAt" validate:"required"`
}

// CashSessionClosedEvent is raised when a cashier counts and closes a drawer.
type CashSessionClosedEvent struct {
	TenantID  int64     `json:"tenantId" validate:"required,gt=0"`
	SessionID string    `json:"sessionId" validate:"required"`
	Method    string    `json:"method"`
	Expected  int64     `json:"expected" validate:"gte=0"`
	Counted   int64     `json:"counted" validate:"gte=0"`
	ClosedAt  time.Time `json:"closedAt" validate:"required"`
}

// ProcessorFeeEvent is raised when a payment processor withholds a fee.
type ProcessorFeeEvent struct {
	TenantID  int64     `json:"tenantId" validate:"required,gt=0"`
	PaymentID string    `json:"paymentId" validate:"required"`
	Method    string    `json:"method" validate:"required"`
	Amount    int64     `json:"amount" validate:"gt=0"`
	ChargedAt time.Time `json:"chargedAt" validate:"required"`
}
