package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/repository"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// TechnicianService handles staff administration of technicians and a
// technician's own availability toggle.
type TechnicianService struct {
	technicians repository.TechnicianRepository
	bcryptCost  int
}

// NewTechnicianService creates the service.
func NewTechnicianService(technicians repository.TechnicianRepository, bcryptCost int) *TechnicianService {
	return &TechnicianService{technicians: technicians, bcryptCost: bcryptCost}
}

// TechnicianCreateInput describes a staff-created technician account.
type TechnicianCreateInput struct {
	Name     string
	Phone    string
	Password string
}

// Create registers a technician on behalf of staff.
func (s *TechnicianService) Create(ctx context.Context, input TechnicianCreateInput) (*domain.Technician, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Phone) == "" || input.Password == "" {
		return nil, apperrors.NewValidationError("name, phone, password required", nil)
	}
	if _, err := s.technicians.GetByPhone(ctx, input.Phone); err == nil {
		return nil, apperrors.NewConflict("phone already registered", map[string]any{"phone": input.Phone})
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	technician := &domain.Technician{
		Name:         strings.TrimSpace(input.Name),
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: hash,
		Active:       true,
		Available:    true,
	}
	if err := s.technicians.Create(ctx, technician); err != nil {
		return nil, apperrors.MapError(err)
	}
	return technician, nil
}

// List returns technicians matching the filter.
func (s *TechnicianService) List(ctx context.Context, filter repository.TechnicianFilter) ([]domain.Technician, error) {
	return s.technicians.List(ctx, filter)
}

// SetActive activates or deactivates a technician. Deactivation keeps
// historical assignments intact.
func (s *TechnicianService) SetActive(ctx context.Context, technicianID string, active bool) (*domain.Technician, error) {
	technician, err := s.technicians.GetByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": technicianID})
		}
		return nil, apperrors.MapError(err)
	}
	technician.Active = active
	if !active {
		technician.Available = false
	}
	if err := s.technicians.Update(ctx, technician); err != nil {
		return nil, apperrors.MapError(err)
	}
	return technician, nil
}

// SetAvailable flips a technician's availability flag.
func (s *TechnicianService) SetAvailable(ctx context.Context, technicianID string, available bool) (*domain.Technician, error) {
	technician, err := s.technicians.GetByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("technician", map[string]any{"technician_id": technicianID})
		}
		return nil, apperrors.MapError(err)
	}
	if !technician.Active {
		return nil, apperrors.NewConflict("technician inactive", map[string]any{"technician_id": technicianID})
	}
	technician.Available = available
	if err := s.technicians.Update(ctx, technician); err != nil {
		return nil, apperrors.MapError(err)
	}
	return technician, nil
}
