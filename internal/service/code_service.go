package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// CodeService issues and verifies short-lived one-time codes. Codes are
// stored hashed; the plaintext only travels inside the Envelope that
// delivers it. The newest issue/resend for a (subject, purpose) pair is the
// sole valid code.
type CodeService struct {
	codes     repository.CodeRepository
	runner    repository.TxRunner
	envelopes *EnvelopeService
	cfg       config.CodeConfig
}

// NewCodeService creates the service.
func NewCodeService(codes repository.CodeRepository, runner repository.TxRunner, envelopes *EnvelopeService, cfg config.CodeConfig) *CodeService {
	return &CodeService{
		codes:     codes,
		runner:    runner,
		envelopes: envelopes,
		cfg:       cfg,
	}
}

// Issue generates a fresh code, supersedes any unconsumed predecessor and
// enqueues its delivery. The plaintext is returned to the caller only so
// the HTTP layer can omit it outside of tests/dev; it is never stored.
func (s *CodeService) Issue(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) (string, error) {
	if subjectAddress == "" {
		return "", apperrors.NewValidationError("subject address required", nil)
	}
	if purpose != domain.CodePurposeRegister && purpose != domain.CodePurposeResetPassword {
		return "", apperrors.NewValidationError("unknown code purpose", nil)
	}

	plaintext, err := generateNumericCode(s.cfg.Length)
	if err != nil {
		return "", apperrors.MapError(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.MapError(err)
	}

	code := &domain.OneTimeCode{
		SubjectAddress: subjectAddress,
		Purpose:        purpose,
		CodeHash:       string(hash),
		ExpiresAt:      time.Now().Add(s.cfg.TTL()),
	}
	envelope := &domain.Envelope{
		RecipientAddress: subjectAddress,
		Body:             fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", plaintext, int(s.cfg.TTL().Minutes())),
	}

	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		codes := s.codes.WithTx(tx)
		if err := codes.Supersede(ctx, subjectAddress, purpose); err != nil {
			return err
		}
		if err := codes.Create(ctx, code); err != nil {
			return err
		}
		return s.envelopes.EnqueueTx(ctx, tx, envelope)
	})
	if err != nil {
		return "", apperrors.MapError(err)
	}

	s.envelopes.TryInlineSend(ctx, envelope)
	return plaintext, nil
}

// Resend supersedes the previous code with a fresh one.
func (s *CodeService) Resend(ctx context.Context, subjectAddress string, purpose domain.CodePurpose) (string, error) {
	return s.Issue(ctx, subjectAddress, purpose)
}

// Verify checks a candidate code. Every call counts against the attempt
// ceiling, success included.
func (s *CodeService) Verify(ctx context.Context, subjectAddress string, purpose domain.CodePurpose, candidate string) error {
	code, err := s.codes.GetLatest(ctx, subjectAddress, purpose)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("code", map[string]any{"subject": subjectAddress})
		}
		return apperrors.MapError(err)
	}
	if code.Consumed() {
		return apperrors.NewCodeAlreadyConsumed()
	}

	attempts, err := s.codes.IncrementAttempts(ctx, code.ID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if code.Expired(time.Now()) {
		return apperrors.NewCodeExpired()
	}
	if attempts > s.cfg.MaxAttempts {
		return apperrors.NewCodeTooManyAttempts()
	}
	if bcrypt.CompareHashAndPassword([]byte(code.CodeHash), []byte(candidate)) != nil {
		return apperrors.NewCodeMismatch(attempts)
	}

	if err := s.codes.MarkConsumed(ctx, code.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// another verify call consumed it between compare and mark
			return apperrors.NewCodeAlreadyConsumed()
		}
		return apperrors.MapError(err)
	}
	return nil
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
