package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue for scheduled maintenance jobs.
	QueueDefault = "default"
	// QueuePostings carries business events waiting to be posted.
	QueuePostings = "postings"

	// TaskGLIntegrity scans the ledger for entries violating double-entry invariants.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskBalanceWarmup pre-computes the balances dashboards read most.
	TaskBalanceWarmup = "ledger:balance_warmup"
	// TaskPostEvent posts a single POS business event.
	TaskPostEvent = "ledger:post_event"
)

// GLIntegrityPayload scopes an integrity scan. A zero TenantID scans every tenant.
type GLIntegrityPayload struct {
	TenantID int64  `json:"tenant_id,omitempty"`
	Since    string `json:"since,omitempty"`
}

// BalanceWarmupPayload scopes a warmup run. A zero TenantID warms every tenant.
type BalanceWarmupPayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// PostEventPayload wraps a raw integration event.
type PostEventPayload struct {
	TenantID int64           `json:"tenant_id"`
	Kind     string          `json:"kind"`
	Event    json.RawMessage `json:"event"`
}

// NewGLIntegrityTask builds an integrity scan task.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	if payload.Since != "" {
		if _, err := time.Parse(time.DateOnly, payload.Since); err != nil {
			return nil, fmt.Errorf("gl integrity: since: %w", err)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewBalanceWarmupTask builds a warmup task.
func NewBalanceWarmupTask(payload BalanceWarmupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceWarmup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewPostEventTask builds a posting task for a business event.
func NewPostEventTask(payload PostEventPayload) (*asynq.Task, error) {
	if payload.TenantID <= 0 {
		return nil, errors.New("post event: tenant required")
	}
	if payload.Kind == "" {
		return nil, errors.New("post event: kind required")
	}
	if len(payload.Event) == 0 {
		return nil, errors.New("post event: event body required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostEvent, body, asynq.Queue(QueuePostings), asynq.MaxRetry(10)), nil
}
