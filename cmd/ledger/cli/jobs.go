package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits ledger tasks.
type Enqueuer interface {
	EnqueuePostEvent(ctx context.Context, payload jobs.PostEventPayload) (*asynq.TaskInfo, error)
	EnqueueGLIntegrity(ctx context.Context, payload jobs.GLIntegrityPayload) (*asynq.TaskInfo, error)
	EnqueueBalanceWarmup(ctx context.Context, payload jobs.BalanceWarmupPayload) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the ledger worker queues.
type JobsCLI struct {
	enqueuer  Enqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI builds the helper. inspector may be nil when stats are not needed.
func NewJobsCLI(enqueuer Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{enqueuer: enqueuer, inspector: inspector}
}

// Trigger enqueues a maintenance job by task name. A zero tenantID targets
// every tenant.
func (c *JobsCLI) Trigger(ctx context.Context, name string, tenantID int64, since string) (*asynq.TaskInfo, error) {
	if c == nil || c.enqueuer == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskGLIntegrity, "gl-integrity":
		return c.enqueuer.EnqueueGLIntegrity(ctx, jobs.GLIntegrityPayload{TenantID: tenantID, Since: since})
	case jobs.TaskBalanceWarmup, "balance-warmup":
		return c.enqueuer.EnqueueBalanceWarmup(ctx, jobs.BalanceWarmupPayload{TenantID: tenantID})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// PostEvent queues the JSON event read from r for asynchronous posting.
func (c *JobsCLI) PostEvent(ctx context.Context, tenantID int64, kind string, r io.Reader) (*asynq.TaskInfo, error) {
	if c == nil || c.enqueuer == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if !knownKind(kind) {
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownEvent, kind)
	}
	body, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("jobs cli: read event: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", integration.ErrInvalidEvent)
	}
	return c.enqueuer.EnqueuePostEvent(ctx, jobs.PostEventPayload{TenantID: tenantID, Kind: kind, Event: body})
}

func knownKind(kind string) bool {
	for _, k := range integration.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// QueueStats summarises one queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports the posting and maintenance queues.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueuePostings, jobs.QueueDefault} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := QueueStats{Queue: queue}
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, err
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}
