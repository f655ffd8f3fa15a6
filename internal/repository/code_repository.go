package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/domain"
)

// CodeRepository manages one-time verification codes.
type CodeRepository interface {
	WithTx(tx pgx.Tx) CodeRepository
	Create(ctx context.Context, code *domain.OneTimeCode) error
	// GetLatest returns the newest code row for the subject/purpose pair,
	// consumed or not, so verification can distinguish AlreadyConsumed.
	GetLatest(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) (*domain.OneTimeCode, error)
	// Supersede invalidates every unconsumed code for the pair.
	Supersede(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkConsumed(ctx context.Context, id string) error
}

type codeRepository struct {
	db DBTX
}

// NewCodeRepository instantiates the repository.
func NewCodeRepository(db DBTX) CodeRepository {
	return &codeRepository{db: db}
}

func (r *codeRepository) WithTx(tx pgx.Tx) CodeRepository {
	return &codeRepository{db: tx}
}

func (r *codeRepository) Create(ctx context.Context, code *domain.OneTimeCode) error {
	const query = `
        INSERT INTO one_time_codes (subject_address, purpose, code_hash, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		code.SubjectAddress,
		code.Purpose,
		code.CodeHash,
		code.ExpiresAt,
	).Scan(&code.ID, &code.CreatedAt)
}

func (r *codeRepository) GetLatest(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	const query = `
        SELECT id, subject_address, purpose, code_hash, expires_at, consumed_at, attempts, created_at
        FROM one_time_codes
        WHERE subject_address=$1 AND purpose=$2
        ORDER BY created_at DESC
        LIMIT 1`
	var code domain.OneTimeCode
	if err := r.db.QueryRow(ctx, query, subjectAddress, purpose).Scan(
		&code.ID,
		&code.SubjectAddress,
		&code.Purpose,
		&code.CodeHash,
		&code.ExpiresAt,
		&code.ConsumedAt,
		&code.Attempts,
		&code.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) Supersede(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) error {
	const query = `
        DELETE FROM one_time_codes
        WHERE subject_address=$1 AND purpose=$2 AND consumed_at IS NULL`
	_, err := r.db.Exec(ctx, query, subjectAddress, purpose)
	return err
}

func (r *codeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const query = `
        UPDATE one_time_codes SET attempts=attempts+1
        WHERE id=$1
        RETURNING attempts`
	var attempts int
	err := r.db.QueryRow(ctx, query, id).Scan(&attempts)
	return attempts, err
}

func (r *codeRepository) MarkConsumed(ctx context.Context, id string) error {
	const query = `
        UPDATE one_time_codes SET consumed_at=NOW()
        WHERE id=$1 AND consumed_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
