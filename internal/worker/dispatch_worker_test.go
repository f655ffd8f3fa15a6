package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/observability"
	"github.com/spec-kit/field-service/internal/repository"
)

type memEnvelopeRepo struct {
	mu        sync.Mutex
	envelopes map[string]domain.Envelope
	order     []string
}

func newMemEnvelopeRepo() *memEnvelopeRepo {
	return &memEnvelopeRepo{envelopes: make(map[string]domain.Envelope)}
}

func (r *memEnvelopeRepo) WithTx(pgx.Tx) repository.EnvelopeRepository { return r }

func (r *memEnvelopeRepo) Create(_ context.Context, envelope *domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	envelope.ID = uuid.NewString()
	envelope.CreatedAt = time.Now()
	r.envelopes[envelope.ID] = *envelope
	r.order = append(r.order, envelope.ID)
	return nil
}

func (r *memEnvelopeRepo) GetByID(_ context.Context, id string) (*domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	envelope, ok := r.envelopes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := envelope
	return &copied, nil
}

func (r *memEnvelopeRepo) ListDeliverable(_ context.Context, attemptedBefore time.Time, limit int) ([]domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Envelope
	for _, id := range r.order {
		envelope := r.envelopes[id]
		if envelope.Status != domain.EnvelopeStatusPending {
			continue
		}
		if envelope.LastAttemptAt != nil && envelope.LastAttemptAt.After(attemptedBefore) {
			continue
		}
		result = append(result, envelope)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *memEnvelopeRepo) ListByStatus(_ context.Context, status domain.EnvelopeStatus, _, _ int) ([]domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Envelope
	for _, id := range r.order {
		if envelope := r.envelopes[id]; envelope.Status == status {
			result = append(result, envelope)
		}
	}
	return result, nil
}

func (r *memEnvelopeRepo) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	envelope, ok := r.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusPending {
		return nil
	}
	now := time.Now()
	envelope.Status = domain.EnvelopeStatusSent
	envelope.Attempts++
	envelope.LastAttemptAt = &now
	r.envelopes[id] = envelope
	return nil
}

func (r *memEnvelopeRepo) RecordFailure(_ context.Context, id string, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	envelope, ok := r.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusPending {
		return nil
	}
	now := time.Now()
	envelope.Attempts++
	envelope.LastAttemptAt = &now
	if envelope.Attempts >= maxAttempts {
		envelope.Status = domain.EnvelopeStatusFailed
	}
	r.envelopes[id] = envelope
	return nil
}

func (r *memEnvelopeRepo) ResetForRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	envelope, ok := r.envelopes[id]
	if !ok || envelope.Status != domain.EnvelopeStatusFailed {
		return pgx.ErrNoRows
	}
	envelope.Status = domain.EnvelopeStatusPending
	envelope.Attempts = 0
	envelope.LastAttemptAt = nil
	r.envelopes[id] = envelope
	return nil
}

type stubTransport struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      int
	pings     int
}

func (t *stubTransport) Send(context.Context, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent++
	return nil
}

func (t *stubTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *stubTransport) Ping(context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
}

func newTestWorker(repo *memEnvelopeRepo, transport *stubTransport, dispatcher events.Dispatcher, metrics *observability.Metrics, maxAttempts int) *DispatchWorker {
	return NewDispatchWorker(repo, transport, dispatcher, metrics, zap.NewNop(), config.DispatchConfig{
		IntervalSeconds: 1,
		BatchSize:       10,
		MaxAttempts:     maxAttempts,
	})
}

func seedPending(t *testing.T, repo *memEnvelopeRepo) *domain.Envelope {
	t.Helper()
	envelope := &domain.Envelope{
		Channel:          domain.ChannelMessaging,
		RecipientAddress: "+15551112222",
		Body:             "ticket update",
		Status:           domain.EnvelopeStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), envelope))
	return envelope
}

func TestCycleDeliversPendingEnvelope(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: true}
	metrics := observability.NewMetrics()
	worker := newTestWorker(repo, transport, events.NewInMemoryDispatcher(), metrics, 3)

	envelope := seedPending(t, repo)
	worker.RunCycle(context.Background())

	refreshed, err := repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeStatusSent, refreshed.Status)
	assert.Equal(t, 1, refreshed.Attempts)
	assert.Equal(t, int64(1), metrics.DispatchCount("sent"))
}

func TestCycleDeliversWhileDisconnected(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: false}
	worker := newTestWorker(repo, transport, events.NewInMemoryDispatcher(), observability.NewMetrics(), 3)

	envelope := seedPending(t, repo)
	worker.RunCycle(context.Background())

	// the connected flag gates only the inline path; the loop delivers anyway
	refreshed, err := repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeStatusSent, refreshed.Status)
	assert.Equal(t, 1, refreshed.Attempts)
	assert.Equal(t, 1, transport.pings, "worker probes the gateway when disconnected")
}

func TestOutageBacklogReachesFailed(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: false, sendErr: errors.New("gateway unreachable")}
	metrics := observability.NewMetrics()
	worker := newTestWorker(repo, transport, events.NewInMemoryDispatcher(), metrics, 3)

	envelope := seedPending(t, repo)
	for i := 0; i < 5; i++ {
		worker.RunCycle(context.Background())
	}

	// an outage surfaces as a retryable FAILED envelope, never a parked
	// PENDING row with zero attempts
	refreshed, err := repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeStatusFailed, refreshed.Status)
	assert.Equal(t, 3, refreshed.Attempts)
	assert.Equal(t, int64(1), metrics.DispatchCount("failed"))
}

func TestRepeatedFailuresReachFailedState(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: true, sendErr: errors.New("gateway unreachable")}
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	var failedEvents int
	dispatcher.Subscribe(events.EventEnvelopeFailed, func(context.Context, events.Event) error {
		failedEvents++
		return nil
	})

	worker := newTestWorker(repo, transport, dispatcher, metrics, 3)
	envelope := seedPending(t, repo)

	for i := 0; i < 3; i++ {
		worker.RunCycle(context.Background())
	}

	refreshed, err := repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeStatusFailed, refreshed.Status)
	assert.Equal(t, 3, refreshed.Attempts)
	assert.Equal(t, int64(1), metrics.DispatchCount("failed"))
	assert.Equal(t, int64(2), metrics.DispatchCount("retried"))
	assert.Equal(t, 1, failedEvents)

	// terminal: further cycles leave it alone
	worker.RunCycle(context.Background())
	refreshed, err = repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.Attempts)
}

func TestRetryAfterFailureDeliverable(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: true, sendErr: errors.New("gateway unreachable")}
	metrics := observability.NewMetrics()
	worker := newTestWorker(repo, transport, events.NewInMemoryDispatcher(), metrics, 2)
	envelope := seedPending(t, repo)

	worker.RunCycle(context.Background())
	worker.RunCycle(context.Background())

	refreshed, err := repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EnvelopeStatusFailed, refreshed.Status)

	// staff retry puts it back in the queue, then the gateway recovers
	require.NoError(t, repo.ResetForRetry(context.Background(), envelope.ID))
	transport.mu.Lock()
	transport.sendErr = nil
	transport.mu.Unlock()

	worker.RunCycle(context.Background())

	refreshed, err = repo.GetByID(context.Background(), envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvelopeStatusSent, refreshed.Status)
	assert.Equal(t, 1, refreshed.Attempts)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := newMemEnvelopeRepo()
	transport := &stubTransport{connected: true}
	worker := newTestWorker(repo, transport, events.NewInMemoryDispatcher(), observability.NewMetrics(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
