package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/messaging"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// EnvelopeService owns the outbound-message table: producers enqueue through
// it, staff inspect and retry through it, and the dispatch worker drains it.
type EnvelopeService struct {
	envelopes   repository.EnvelopeRepository
	transport   messaging.Transport
	maxAttempts int
	logger      *zap.Logger
}

// NewEnvelopeService creates the service. maxAttempts is the same delivery
// ceiling the dispatch loop uses.
func NewEnvelopeService(envelopes repository.EnvelopeRepository, transport messaging.Transport, maxAttempts int, logger *zap.Logger) *EnvelopeService {
	return &EnvelopeService{
		envelopes:   envelopes,
		transport:   transport,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// EnqueueTx writes envelopes inside the caller's transaction, so the durable
// record commits atomically with the transition that produced it.
func (s *EnvelopeService) EnqueueTx(ctx context.Context, tx pgx.Tx, envelopes ...*domain.Envelope) error {
	repo := s.envelopes.WithTx(tx)
	for _, envelope := range envelopes {
		envelope.Channel = domain.ChannelMessaging
		envelope.Status = domain.EnvelopeStatusPending
		if err := repo.Create(ctx, envelope); err != nil {
			return err
		}
	}
	return nil
}

// TryInlineSend makes a best-effort delivery attempt right after commit when
// the transport reports itself connected. A failed attempt still counts: it
// is recorded so the attempt tally and the retry-gap skip stay accurate, and
// the dispatch loop picks the envelope up from there.
func (s *EnvelopeService) TryInlineSend(ctx context.Context, envelopes ...*domain.Envelope) {
	if s.transport == nil || !s.transport.Connected() {
		return
	}
	for _, envelope := range envelopes {
		if err := s.transport.Send(ctx, envelope.RecipientAddress, envelope.Body); err != nil {
			s.logger.Debug("inline send failed; leaving envelope for dispatch loop",
				zap.String("envelope_id", envelope.ID), zap.Error(err))
			if recErr := s.envelopes.RecordFailure(ctx, envelope.ID, s.maxAttempts); recErr != nil {
				s.logger.Warn("inline send failure not recorded",
					zap.String("envelope_id", envelope.ID), zap.Error(recErr))
			}
			continue
		}
		if err := s.envelopes.MarkSent(ctx, envelope.ID); err != nil {
			s.logger.Warn("inline send delivered but envelope not marked sent",
				zap.String("envelope_id", envelope.ID), zap.Error(err))
		}
	}
}

// List returns envelopes in the given delivery state for staff review.
func (s *EnvelopeService) List(ctx context.Context, status domain.EnvelopeStatus, limit, offset int) ([]domain.Envelope, error) {
	switch status {
	case domain.EnvelopeStatusPending, domain.EnvelopeStatusSent, domain.EnvelopeStatusFailed:
	default:
		return nil, apperrors.NewValidationError("unknown envelope status", map[string]any{"status": status})
	}
	return s.envelopes.ListByStatus(ctx, status, limit, offset)
}

// Retry resets a FAILED envelope to PENDING with zero attempts, putting it
// back in front of the dispatch loop.
func (s *EnvelopeService) Retry(ctx context.Context, envelopeID string) (*domain.Envelope, error) {
	if err := s.envelopes.ResetForRetry(ctx, envelopeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflict("envelope is not in a retryable state", map[string]any{"envelope_id": envelopeID})
		}
		return nil, apperrors.MapError(err)
	}
	envelope, err := s.envelopes.GetByID(ctx, envelopeID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return envelope, nil
}
