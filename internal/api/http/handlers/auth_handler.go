package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/api/dto"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/service"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// AuthHandler exposes login, registration and password reset flows.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{service: authService}
}

// StaffLogin POST /auth/staff/login.
func (h *AuthHandler) StaffLogin(c *fiber.Ctx) error {
	var req dto.StaffLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	staff, token, expiresAt, err := h.service.LoginStaff(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		SubjectType: domain.SubjectTypeStaff,
		SubjectID:   staff.ID,
	}})
}

// TechnicianLogin POST /auth/technicians/login.
func (h *AuthHandler) TechnicianLogin(c *fiber.Ctx) error {
	var req dto.TechnicianLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Phone == "" || req.Password == "" {
		return apperrors.NewValidationError("phone and password required", nil)
	}
	technician, token, expiresAt, err := h.service.LoginTechnician(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		SubjectType: domain.SubjectTypeTechnician,
		SubjectID:   technician.ID,
	}})
}

// RequestCode POST /auth/codes/request. Also serves resend; reissuing
// supersedes any earlier unconsumed code for the same phone and purpose.
func (h *AuthHandler) RequestCode(c *fiber.Ctx) error {
	var req dto.RequestCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return apperrors.NewValidationError("phone required", nil)
	}
	if req.Purpose != domain.CodePurposeRegister && req.Purpose != domain.CodePurposeResetPassword {
		return apperrors.NewValidationError("purpose must be REGISTER or RESET_PASSWORD", nil)
	}
	if err := h.service.RequestCode(c.UserContext(), req.Phone, req.Purpose); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "code_sent"}})
}

// Register POST /auth/technicians/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Name == "" || req.Phone == "" || req.Code == "" || req.Password == "" {
		return apperrors.NewValidationError("name, phone, code, password required", nil)
	}
	technician, err := h.service.CompleteRegistration(c.UserContext(), req.Name, req.Phone, req.Code, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": technicianResponse(technician)})
}

// ResetPassword POST /auth/password/reset.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Phone == "" || req.Code == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("phone, code, new_password required", nil)
	}
	if err := h.service.ResetPassword(c.UserContext(), req.Phone, req.Code, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_reset"}})
}
