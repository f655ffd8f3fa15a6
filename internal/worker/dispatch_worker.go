package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/messaging"
	"github.com/spec-kit/field-service/internal/observability"
	"github.com/spec-kit/field-service/internal/repository"
)

// pinger is implemented by transports that can refresh their reachability
// flag out of band.
type pinger interface {
	Ping(ctx context.Context)
}

// DispatchWorker drains PENDING envelopes on a fixed interval. It is the
// only writer that moves envelopes out of PENDING in the background; the
// inline post-commit send uses the same repository guards, so the two
// never double-deliver a SENT envelope.
type DispatchWorker struct {
	envelopes  repository.EnvelopeRepository
	transport  messaging.Transport
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.DispatchConfig
}

// NewDispatchWorker creates the worker.
func NewDispatchWorker(
	envelopes repository.EnvelopeRepository,
	transport messaging.Transport,
	dispatcher events.Dispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg config.DispatchConfig,
) *DispatchWorker {
	return &DispatchWorker{
		envelopes:  envelopes,
		transport:  transport,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run blocks until ctx is cancelled, executing one dispatch cycle per tick.
func (w *DispatchWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval())
	defer ticker.Stop()

	w.logger.Info("dispatch worker started",
		zap.Duration("interval", w.cfg.Interval()),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopped")
			return
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle performs a single poll-and-deliver pass. The connected flag only
// gates the inline post-commit send; the loop always attempts delivery so an
// outage surfaces as recorded failures rather than a silent PENDING backlog.
func (w *DispatchWorker) RunCycle(ctx context.Context) {
	if p, ok := w.transport.(pinger); ok && !w.transport.Connected() {
		p.Ping(ctx)
	}

	cutoff := time.Now().Add(-w.cfg.MinRetryGap())
	batch, err := w.envelopes.ListDeliverable(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("dispatch poll failed", zap.Error(err))
		return
	}

	for i := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, &batch[i])
	}
}

func (w *DispatchWorker) deliver(ctx context.Context, envelope *domain.Envelope) {
	if err := w.transport.Send(ctx, envelope.RecipientAddress, envelope.Body); err != nil {
		w.logger.Warn("envelope delivery failed",
			zap.String("envelope_id", envelope.ID),
			zap.Int("attempts", envelope.Attempts+1),
			zap.Error(err))
		if recErr := w.envelopes.RecordFailure(ctx, envelope.ID, w.cfg.MaxAttempts); recErr != nil {
			w.logger.Error("failed to record delivery failure",
				zap.String("envelope_id", envelope.ID), zap.Error(recErr))
			return
		}
		if envelope.Attempts+1 >= w.cfg.MaxAttempts {
			w.metrics.RecordDispatch("failed")
			w.publishFailed(ctx, envelope)
		} else {
			w.metrics.RecordDispatch("retried")
		}
		return
	}

	if err := w.envelopes.MarkSent(ctx, envelope.ID); err != nil {
		w.logger.Error("failed to mark envelope sent",
			zap.String("envelope_id", envelope.ID), zap.Error(err))
		return
	}
	w.metrics.RecordDispatch("sent")
	w.logger.Info("envelope delivered",
		zap.String("envelope_id", envelope.ID),
		zap.String("recipient", envelope.RecipientAddress))
}

func (w *DispatchWorker) publishFailed(ctx context.Context, envelope *domain.Envelope) {
	if w.dispatcher == nil {
		return
	}
	var ticketID string
	if envelope.TicketRef != nil {
		ticketID = *envelope.TicketRef
	}
	_ = w.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventEnvelopeFailed,
		TicketID:  ticketID,
		Actor:     events.Actor{Type: domain.SubjectTypeStaff},
		Timestamp: time.Now().UTC(),
		Payload: events.EnvelopeFailedPayload{
			EnvelopeID: envelope.ID,
			Attempts:   envelope.Attempts + 1,
		},
	})
}
