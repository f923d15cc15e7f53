package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TenantSource lists tenants with ledger activity.
type TenantSource interface {
	Tenants(ctx context.Context) ([]int64, error)
}

// BalanceGetter computes (and caches) account balances.
type BalanceGetter interface {
	GetBalance(ctx context.Context, q ledger.BalanceQuery) (ledger.Balance, error)
}

// BalanceWarmupJob pre-populates the balance cache for the POS chart.
type BalanceWarmupJob struct {
	Balances BalanceGetter
	Tenants  TenantSource
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	codes    []string
	clock    func() time.Time
}

// NewBalanceWarmupJob wires dependencies for the warmup handler.
func NewBalanceWarmupJob(balances BalanceGetter, tenants TenantSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceWarmupJob {
	return &BalanceWarmupJob{
		Balances: balances,
		Tenants:  tenants,
		Logger:   logger,
		Metrics:  metrics,
		codes:    append([]string{policy.Cash}, policy.RequiredCodes()...),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes balance warmup tasks.
func (j *BalanceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Balances == nil {
		return errors.New("balance warmup: handler not configured")
	}
	var payload BalanceWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("balance warmup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskBalanceWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	tenants := []int64{payload.TenantID}
	if payload.TenantID <= 0 {
		if j.Tenants == nil {
			resultErr = errors.New("balance warmup: tenant source not configured")
			return resultErr
		}
		var err error
		tenants, err = j.Tenants.Tenants(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load warmup tenants", slog.Any("error", err))
			return resultErr
		}
	}
	if len(tenants) == 0 {
		logger.Info("no tenants discovered for warmup")
		return resultErr
	}

	start := j.now()
	total := 0
	for _, tenantID := range tenants {
		warmed, err := j.warmTenant(ctx, tenantID)
		if err != nil {
			resultErr = err
			logger.Error("warm tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddWarmed(tenantID, warmed)
		total += warmed
	}

	logger.Info("completed balance warmup",
		slog.Int("tenants", len(tenants)),
		slog.Int("balances", total),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *BalanceWarmupJob) warmTenant(ctx context.Context, tenantID int64) (int, error) {
	tenantCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	warmed := 0
	for _, code := range j.codes {
		_, err := j.Balances.GetBalance(tenantCtx, ledger.BalanceQuery{TenantID: tenantID, AccountCode: code})
		if errors.Is(err, ledger.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return warmed, fmt.Errorf("balance warmup: %s: %w", code, err)
		}
		warmed++
	}
	return warmed, nil
}

func (j *BalanceWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BalanceWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceWarmup))
	}
	return slog.Default().With(slog.String("job", TaskBalanceWarmup))
}

func (j *BalanceWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
