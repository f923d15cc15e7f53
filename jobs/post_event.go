package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
)

// EventDispatcher posts a raw integration event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, kind string, tenantID int64, payload []byte) (ledger.JournalEntry, error)
}

// permanentPostErrors cannot succeed on retry; the event needs correcting upstream.
var permanentPostErrors = []error{
	integration.ErrUnknownEvent,
	integration.ErrInvalidEvent,
	policy.ErrInvalidAmount,
	ledger.ErrAccountsNotFound,
	ledger.ErrUnbalancedEntry,
	ledger.ErrPeriodLocked,
	ledger.ErrInvalidPosting,
	ledger.ErrTooFewLines,
	ledger.ErrAmountOverflow,
	ledger.ErrParentAccountPosting,
}

// PostEventJob posts queued POS events into the ledger.
type PostEventJob struct {
	Dispatcher EventDispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewPostEventJob wires the posting handler.
func NewPostEventJob(dispatcher EventDispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *PostEventJob {
	return &PostEventJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle posts one event. Posting is idempotent on the event's source key,
// so redelivery after a partial failure is safe.
func (j *PostEventJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("post event: handler not configured")
	}
	var payload PostEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("post event: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskPostEvent)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("tenant_id", payload.TenantID), slog.String("kind", payload.Kind))
	entry, err := j.Dispatcher.Dispatch(ctx, payload.Kind, payload.TenantID, payload.Event)
	switch {
	case errors.Is(err, integration.ErrNothingToPost):
		logger.Info("event produced no journal entry")
		return resultErr
	case err != nil:
		for _, target := range permanentPostErrors {
			if errors.Is(err, target) {
				logger.Error("post event", slog.Any("error", err), slog.Bool("skip_retry", true))
				resultErr = fmt.Errorf("post event: %v: %w", err, asynq.SkipRetry)
				return resultErr
			}
		}
		logger.Error("post event", slog.Any("error", err), slog.Bool("skip_retry", false))
		resultErr = err
		return resultErr
	}
	logger.Info("event posted",
		slog.String("entry_id", entry.ID.String()),
		slog.String("source_id", entry.SourceID))
	return resultErr
}

func (j *PostEventJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PostEventJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPostEvent))
	}
	return slog.Default().With(slog.String("job", TaskPostEvent))
}
