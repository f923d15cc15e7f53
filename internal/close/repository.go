package close

import (
	"context"
	"time"
)

// LockStore persists the single lock row of each tenant.
type LockStore interface {
	GetLock(ctx context.Context, tenantID int64) (*PeriodLock, error)
	UpsertLock(ctx context.Context, lock PeriodLock) (PeriodLock, error)
}

// Repository persists periods and locks.
type Repository interface {
	LockStore
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// EnsurePeriodLock commits the tenant's lock row before a close or open
	// transaction takes it FOR UPDATE.
	EnsurePeriodLock(ctx context.Context, tenantID int64) error
	// LatestClosed returns the closed period with the greatest end date, nil when none.
	LatestClosed(ctx context.Context, tenantID int64) (*Period, error)
	// CurrentOpen returns the open period, nil when none.
	CurrentOpen(ctx context.Context, tenantID int64) (*Period, error)
	ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]Period, error)
}

// TxRepository exposes the writes performed while closing or opening a period.
type TxRepository interface {
	LatestClosed(ctx context.Context, tenantID int64) (*Period, error)
	CurrentOpen(ctx context.Context, tenantID int64) (*Period, error)
	UpsertLock(ctx context.Context, lock PeriodLock) (PeriodLock, error)
	InsertPeriod(ctx context.Context, period Period) (Period, error)
	MarkClosed(ctx context.Context, period Period, endDate time.Time, actorID int64, at time.Time) (Period, error)
}
