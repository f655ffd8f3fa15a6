package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/domain"
)

// EnvelopeRepository is the durable outbound-message table.
type EnvelopeRepository interface {
	WithTx(tx pgx.Tx) EnvelopeRepository
	Create(ctx context.Context, envelope *domain.Envelope) error
	GetByID(ctx context.Context, id string) (*domain.Envelope, error)
	// ListDeliverable returns PENDING envelopes in creation order whose last
	// attempt (if any) happened before the cutoff.
	ListDeliverable(ctx context.Context, attemptedBefore time.Time, limit int) ([]domain.Envelope, error)
	ListByStatus(ctx context.Context, status domain.EnvelopeStatus, limit, offset int) ([]domain.Envelope, error)
	// MarkSent records a successful delivery attempt. No-op for envelopes
	// that already left PENDING.
	MarkSent(ctx context.Context, id string) error
	// RecordFailure counts a failed attempt, flipping to FAILED once the
	// attempt ceiling is reached.
	RecordFailure(ctx context.Context, id string, maxAttempts int) error
	// ResetForRetry is the staff retry: FAILED back to PENDING, attempts=0.
	ResetForRetry(ctx context.Context, id string) error
}

type envelopeRepository struct {
	db DBTX
}

// NewEnvelopeRepository instantiates the repository.
func NewEnvelopeRepository(db DBTX) EnvelopeRepository {
	return &envelopeRepository{db: db}
}

func (r *envelopeRepository) WithTx(tx pgx.Tx) EnvelopeRepository {
	return &envelopeRepository{db: tx}
}

const envelopeColumns = `id, channel, recipient_address, body, status, attempts, last_attempt_at, ticket_ref, created_at`

func (r *envelopeRepository) Create(ctx context.Context, envelope *domain.Envelope) error {
	const query = `
        INSERT INTO envelopes (channel, recipient_address, body, status, ticket_ref)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		envelope.Channel,
		envelope.RecipientAddress,
		envelope.Body,
		envelope.Status,
		envelope.TicketRef,
	).Scan(&envelope.ID, &envelope.CreatedAt)
}

func (r *envelopeRepository) GetByID(ctx context.Context, id string) (*domain.Envelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM envelopes WHERE id=$1`
	var envelope domain.Envelope
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&envelope.ID,
		&envelope.Channel,
		&envelope.RecipientAddress,
		&envelope.Body,
		&envelope.Status,
		&envelope.Attempts,
		&envelope.LastAttemptAt,
		&envelope.TicketRef,
		&envelope.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (r *envelopeRepository) ListDeliverable(ctx context.Context, attemptedBefore time.Time, limit int) ([]domain.Envelope, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `
        SELECT ` + envelopeColumns + `
        FROM envelopes
        WHERE status=$1 AND (last_attempt_at IS NULL OR last_attempt_at <= $2)
        ORDER BY created_at ASC
        LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.EnvelopeStatusPending, attemptedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (r *envelopeRepository) ListByStatus(ctx context.Context, status domain.EnvelopeStatus, limit, offset int) ([]domain.Envelope, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
        SELECT ` + envelopeColumns + `
        FROM envelopes WHERE status=$1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (r *envelopeRepository) MarkSent(ctx context.Context, id string) error {
	const query = `
        UPDATE envelopes
        SET status=$2, attempts=attempts+1, last_attempt_at=NOW()
        WHERE id=$1 AND status=$3`
	_, err := r.db.Exec(ctx, query, id, domain.EnvelopeStatusSent, domain.EnvelopeStatusPending)
	return err
}

func (r *envelopeRepository) RecordFailure(ctx context.Context, id string, maxAttempts int) error {
	const query = `
        UPDATE envelopes
        SET attempts=attempts+1,
            last_attempt_at=NOW(),
            status=CASE WHEN attempts+1 >= $2 THEN $3::text ELSE status END
        WHERE id=$1 AND status=$4`
	_, err := r.db.Exec(ctx, query, id, maxAttempts, domain.EnvelopeStatusFailed, domain.EnvelopeStatusPending)
	return err
}

func (r *envelopeRepository) ResetForRetry(ctx context.Context, id string) error {
	const query = `
        UPDATE envelopes
        SET status=$2, attempts=0, last_attempt_at=NULL
        WHERE id=$1 AND status=$3`
	cmd, err := r.db.Exec(ctx, query, id, domain.EnvelopeStatusPending, domain.EnvelopeStatusFailed)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanEnvelopes(rows pgx.Rows) ([]domain.Envelope, error) {
	var result []domain.Envelope
	for rows.Next() {
		var envelope domain.Envelope
		if err := rows.Scan(
			&envelope.ID,
			&envelope.Channel,
			&envelope.RecipientAddress,
			&envelope.Body,
			&envelope.Status,
			&envelope.Attempts,
			&envelope.LastAttemptAt,
			&envelope.TicketRef,
			&envelope.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, envelope)
	}
	return result, rows.Err()
}
