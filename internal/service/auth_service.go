package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// AuthService coordinates login and the one-time-code backed registration
// and password-reset flows.
type AuthService struct {
	staff       repository.StaffRepository
	technicians repository.TechnicianRepository
	codes       *CodeService
	tokenMgr    *auth.TokenManager
	bcryptCost  int
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	StaffRepo      repository.StaffRepository
	TechnicianRepo repository.TechnicianRepository
	Codes          *CodeService
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		staff:       deps.StaffRepo,
		technicians: deps.TechnicianRepo,
		codes:       deps.Codes,
		tokenMgr:    auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost:  cfg.Auth.BcryptCost,
	}
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// LoginStaff authenticates staff and returns a role-bearing token.
func (s *AuthService) LoginStaff(ctx context.Context, email, password string) (*domain.StaffMember, string, time.Time, error) {
	staff, err := s.staff.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !staff.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("staff inactive")
	}
	if err := auth.ComparePassword(staff.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(staff.ID, domain.SubjectTypeStaff, &staff.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	return staff, token, exp, nil
}

// LoginTechnician authenticates a technician by phone and password.
func (s *AuthService) LoginTechnician(ctx context.Context, phone, password string) (*domain.Technician, string, time.Time, error) {
	technician, err := s.technicians.GetByPhone(ctx, phone)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !technician.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("technician inactive")
	}
	if err := auth.ComparePassword(technician.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(technician.ID, domain.SubjectTypeTechnician, nil)
	if err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	return technician, token, exp, nil
}

// RequestCode starts a registration or password-reset flow by issuing a
// one-time code to the given phone.
func (s *AuthService) RequestCode(ctx context.Context, phone string, purpose domain.CodePurpose) error {
	_, err := s.technicians.GetByPhone(ctx, phone)
	switch purpose {
	case domain.CodePurposeRegister:
		if err == nil {
			return apperrors.NewConflict("phone already registered", map[string]any{"phone": phone})
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return apperrors.MapError(err)
		}
	case domain.CodePurposeResetPassword:
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("technician", map[string]any{"phone": phone})
			}
			return apperrors.MapError(err)
		}
	default:
		return apperrors.NewValidationError("unknown code purpose", nil)
	}

	_, err = s.codes.Issue(ctx, phone, purpose)
	return err
}

// CompleteRegistration verifies a REGISTER code and creates the technician
// account.
func (s *AuthService) CompleteRegistration(ctx context.Context, name, phone, code, password string) (*domain.Technician, error) {
	if name == "" || phone == "" || password == "" {
		return nil, apperrors.NewValidationError("name, phone, password required", nil)
	}
	if err := s.codes.Verify(ctx, phone, domain.CodePurposeRegister, code); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	technician := &domain.Technician{
		Name:         name,
		Phone:        phone,
		PasswordHash: hash,
		Active:       true,
		Available:    true,
	}
	if err := s.technicians.Create(ctx, technician); err != nil {
		return nil, apperrors.MapError(err)
	}
	return technician, nil
}

// ResetPassword verifies a RESET_PASSWORD code and replaces the technician's
// password.
func (s *AuthService) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	if newPassword == "" {
		return apperrors.NewValidationError("new password required", nil)
	}
	technician, err := s.technicians.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("technician", map[string]any{"phone": phone})
		}
		return apperrors.MapError(err)
	}
	if err := s.codes.Verify(ctx, phone, domain.CodePurposeResetPassword, code); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.MapError(err)
	}
	technician.PasswordHash = hash
	if err := s.technicians.Update(ctx, technician); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}
