package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type stubIntegrityReader struct {
	tenants   []int64
	anomalies map[int64][]Anomaly
	since     []*time.Time
}

func (s *stubIntegrityReader) Tenants(context.Context) ([]int64, error) {
	return s.tenants, nil
}

func (s *stubIntegrityReader) Anomalies(_ context.Context, tenantID int64, since *time.Time) ([]Anomaly, error) {
	s.since = append(s.since, since)
	return s.anomalies[tenantID], nil
}

func TestGLIntegrityReportsAnomaliesPerTenant(t *testing.T) {
	reader := &stubIntegrityReader{
		tenants: []int64{1, 2},
		anomalies: map[int64][]Anomaly{
			1: {
				{Kind: AnomalyUnbalancedEntry, TenantID: 1, EntryID: uuid.New(), Detail: "debit 100 credit 90"},
				{Kind: AnomalyUnbalancedEntry, TenantID: 1, EntryID: uuid.New(), Detail: "debit 5 credit 0"},
				{Kind: AnomalyParentPosting, TenantID: 1, EntryID: uuid.New(), Detail: "account CASH"},
			},
		},
	}
	reg := prometheus.NewRegistry()
	job := NewGLIntegrityJob(reader, nil, jobmetrics.NewMetrics(reg))

	found, err := job.Run(context.Background(), GLIntegrityPayload{Since: "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, found, 3)
	require.Len(t, reader.since, 2)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *reader.since[0])

	expected := `
# HELP odyssey_ledger_integrity_anomalies_total Ledger integrity violations grouped by kind and tenant.
# TYPE odyssey_ledger_integrity_anomalies_total counter
odyssey_ledger_integrity_anomalies_total{kind="parent_posting",tenant="1"} 1
odyssey_ledger_integrity_anomalies_total{kind="unbalanced_entry",tenant="1"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_ledger_integrity_anomalies_total"))
}

func TestGLIntegrityHandleSingleTenantAndBadPayload(t *testing.T) {
	reader := &stubIntegrityReader{tenants: []int64{1, 2, 3}}
	job := NewGLIntegrityJob(reader, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewGLIntegrityTask(GLIntegrityPayload{TenantID: 7})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, reader.since, 1)
	require.Nil(t, reader.since[0])

	err = job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewGLIntegrityTask(GLIntegrityPayload{Since: "31/01/2024"})
	require.Error(t, err)
}

type stubBalances struct {
	missing map[string]bool
	calls   []ledger.BalanceQuery
	err     error
}

func (s *stubBalances) GetBalance(_ context.Context, q ledger.BalanceQuery) (ledger.Balance, error) {
	s.calls = append(s.calls, q)
	if s.err != nil {
		return ledger.Balance{}, s.err
	}
	if s.missing[q.AccountCode] {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, q.AccountCode)
	}
	return ledger.Balance{AccountCode: q.AccountCode}, nil
}

type stubTenants []int64

func (s stubTenants) Tenants(context.Context) ([]int64, error) { return s, nil }

func TestBalanceWarmupSkipsMissingAccounts(t *testing.T) {
	balances := &stubBalances{missing: map[string]bool{"BANK_MAIN": true}}
	reg := prometheus.NewRegistry()
	job := NewBalanceWarmupJob(balances, stubTenants{4, 5}, nil, jobmetrics.NewMetrics(reg))

	task, err := NewBalanceWarmupTask(BalanceWarmupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	perTenant := len(job.codes)
	require.Len(t, balances.calls, 2*perTenant)
	require.Equal(t, "CASH", balances.calls[0].AccountCode)
	require.Equal(t, int64(4), balances.calls[0].TenantID)
	require.Equal(t, int64(5), balances.calls[perTenant].TenantID)

	expected := fmt.Sprintf(`
# HELP odyssey_ledger_balances_warmed_total Balances pre-computed by the warmup job.
# TYPE odyssey_ledger_balances_warmed_total counter
odyssey_ledger_balances_warmed_total{tenant="4"} %d
odyssey_ledger_balances_warmed_total{tenant="5"} %d
`, perTenant-1, perTenant-1)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_ledger_balances_warmed_total"))
}

func TestBalanceWarmupPropagatesStoreErrors(t *testing.T) {
	balances := &stubBalances{err: errors.New("connection reset")}
	job := NewBalanceWarmupJob(balances, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewBalanceWarmupTask(BalanceWarmupPayload{TenantID: 9})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorContains(t, err, "connection reset")
	require.Len(t, balances.calls, 1)
}

type stubDispatcher struct {
	err   error
	kinds []string
}

func (s *stubDispatcher) Dispatch(_ context.Context, kind string, tenantID int64, payload []byte) (ledger.JournalEntry, error) {
	s.kinds = append(s.kinds, kind)
	if s.err != nil {
		return ledger.JournalEntry{}, s.err
	}
	return ledger.JournalEntry{ID: uuid.New(), TenantID: tenantID, SourceType: kind, SourceID: string(payload)}, nil
}

func postTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewPostEventTask(PostEventPayload{
		TenantID: 1,
		Kind:     "payment",
		Event:    json.RawMessage(`{"paymentId":"p-1","amount":1000}`),
	})
	require.NoError(t, err)
	return task
}

func TestPostEventJobOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "posted"},
		{name: "nothing to post", err: integration.ErrNothingToPost},
		{name: "period locked", err: &ledger.PeriodLockedError{}, wantErr: true, skipRetry: true},
		{name: "invalid event", err: fmt.Errorf("%w: amount", integration.ErrInvalidEvent), wantErr: true, skipRetry: true},
		{name: "transient", err: errors.New("deadline exceeded"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dispatcher := &stubDispatcher{err: tc.err}
			job := NewPostEventJob(dispatcher, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

			err := job.Handle(context.Background(), postTask(t))
			require.Equal(t, []string{"payment"}, dispatcher.kinds)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestNewPostEventTaskValidates(t *testing.T) {
	_, err := NewPostEventTask(PostEventPayload{Kind: "payment", Event: json.RawMessage(`{}`)})
	require.Error(t, err)
	_, err = NewPostEventTask(PostEventPayload{TenantID: 1, Event: json.RawMessage(`{}`)})
	require.Error(t, err)
	_, err = NewPostEventTask(PostEventPayload{TenantID: 1, Kind: "refund"})
	require.Error(t, err)

	task := postTask(t)
	require.Equal(t, TaskPostEvent, task.Type())
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{QueuePostings: {Queue: QueuePostings, Pending: 3, Retry: 1}}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueuePostings, Pending: 3, Retry: 1},
		{Queue: QueueDefault},
	}, body.Queues)
}
