package dto

import (
	"time"

	"github.com/spec-kit/field-service/internal/domain"
)

// StaffLoginRequest payload.
type StaffLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TechnicianLoginRequest payload.
type TechnicianLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	SubjectType domain.SubjectType `json:"subject_type"`
	SubjectID   string             `json:"subject_id"`
}

// RequestCodeRequest asks for a one-time code delivery.
type RequestCodeRequest struct {
	Phone   string             `json:"phone"`
	Purpose domain.CodePurpose `json:"purpose"`
}

// RegisterRequest completes technician self-registration.
type RegisterRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}
