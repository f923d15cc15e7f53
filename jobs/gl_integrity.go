package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Integrity violation kinds reported by the scan.
const (
	AnomalyUnbalancedEntry     = "unbalanced_entry"
	AnomalyTooFewLines         = "too_few_lines"
	AnomalyParentPosting       = "parent_posting"
	AnomalyLockedPeriodPosting = "locked_period_posting"
)

// Anomaly is one journal entry violating a ledger invariant.
type Anomaly struct {
	Kind      string
	TenantID  int64
	EntryID   uuid.UUID
	EntryDate time.Time
	Detail    string
}

// IntegrityReader runs the queries behind the integrity scan.
type IntegrityReader interface {
	Tenants(ctx context.Context) ([]int64, error)
	Anomalies(ctx context.Context, tenantID int64, since *time.Time) ([]Anomaly, error)
}

// GLIntegrityJob checks that stored entries still satisfy double-entry rules.
type GLIntegrityJob struct {
	Reader  IntegrityReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob wires dependencies for the integrity scan.
func NewGLIntegrityJob(reader IntegrityReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Reader:  reader,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes an integrity scan task.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reader == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans the requested tenants and returns every anomaly found.
func (j *GLIntegrityJob) Run(ctx context.Context, payload GLIntegrityPayload) (anomalies []Anomaly, resultErr error) {
	var since *time.Time
	if payload.Since != "" {
		parsed, err := time.Parse(time.DateOnly, payload.Since)
		if err != nil {
			return nil, fmt.Errorf("gl integrity: since: %v: %w", err, asynq.SkipRetry)
		}
		since = &parsed
	}

	start := j.now()
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	tenants := []int64{payload.TenantID}
	if payload.TenantID <= 0 {
		var err error
		tenants, err = j.Reader.Tenants(ctx)
		if err != nil {
			logger.Error("load tenants", slog.Any("error", err))
			return nil, err
		}
	}

	for _, tenantID := range tenants {
		found, err := j.Reader.Anomalies(ctx, tenantID, since)
		if err != nil {
			logger.Error("scan tenant", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			return anomalies, err
		}
		counts := make(map[string]int)
		for _, a := range found {
			logger.Warn("ledger integrity violation",
				slog.String("kind", a.Kind),
				slog.Int64("tenant_id", a.TenantID),
				slog.String("entry_id", a.EntryID.String()),
				slog.String("entry_date", a.EntryDate.Format(time.DateOnly)),
				slog.String("detail", a.Detail),
			)
			counts[a.Kind]++
		}
		for kind, n := range counts {
			j.metrics().AddAnomalies(kind, tenantID, n)
		}
		anomalies = append(anomalies, found...)
	}

	logger.Info("completed gl integrity scan",
		slog.Int("tenants", len(tenants)),
		slog.Int("anomalies", len(anomalies)),
		slog.Duration("duration", time.Since(start)),
	)
	return anomalies, nil
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the clock used for duration logging.
func (j *GLIntegrityJob) WithClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

// PGIntegrityReader runs the integrity queries against PostgreSQL.
type PGIntegrityReader struct {
	pool *pgxpool.Pool
}

// NewPGIntegrityReader constructs the PostgreSQL integrity reader.
func NewPGIntegrityReader(pool *pgxpool.Pool) *PGIntegrityReader {
	return &PGIntegrityReader{pool: pool}
}

func (r *PGIntegrityReader) Tenants(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM journal_entries ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("gl integrity: tenants: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const integrityQuery = `
WITH entries AS (
    SELECT e.id, e.tenant_id, e.entry_date, e.posted_at
    FROM journal_entries e
    WHERE e.tenant_id = $1 AND ($2::date IS NULL OR e.entry_date >= $2::date)
)
SELECT 'unbalanced_entry', e.id, e.entry_date,
       'debit ' || COALESCE(SUM(l.debit), 0) || ' credit ' || COALESCE(SUM(l.credit), 0)
FROM entries e JOIN journal_lines l ON l.entry_id = e.id
GROUP BY e.id, e.entry_date
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0)
UNION ALL
SELECT 'too_few_lines', e.id, e.entry_date, COUNT(l.id) || ' lines'
FROM entries e LEFT JOIN journal_lines l ON l.entry_id = e.id
GROUP BY e.id, e.entry_date
HAVING COUNT(l.id) < 2
UNION ALL
SELECT 'parent_posting', e.id, e.entry_date, 'account ' || a.code
FROM entries e
JOIN journal_lines l ON l.entry_id = e.id
JOIN accounts a ON a.id = l.account_id
WHERE a.is_parent
UNION ALL
SELECT 'locked_period_posting', e.id, e.entry_date, 'posted after lock through ' || p.lock_end_date
FROM entries e
JOIN period_locks p ON p.tenant_id = e.tenant_id
WHERE p.lock_end_date IS NOT NULL AND e.entry_date <= p.lock_end_date AND e.posted_at > p.locked_at
ORDER BY 3, 2`

func (r *PGIntegrityReader) Anomalies(ctx context.Context, tenantID int64, since *time.Time) ([]Anomaly, error) {
	rows, err := r.pool.Query(ctx, integrityQuery, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("gl integrity: scan: %w", err)
	}
	defer rows.Close()
	var out []Anomaly
	for rows.Next() {
		a := Anomaly{TenantID: tenantID}
		if err := rows.Scan(&a.Kind, &a.EntryID, &a.EntryDate, &a.Detail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
