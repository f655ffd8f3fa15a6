package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/api/dto"
	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/service"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// AssignmentsHandler manages technician-to-ticket binding endpoints.
type AssignmentsHandler struct {
	service *service.AssignmentService
}

// NewAssignmentsHandler constructs handler.
func NewAssignmentsHandler(assignmentService *service.AssignmentService) *AssignmentsHandler {
	return &AssignmentsHandler{service: assignmentService}
}

// Assign POST /tickets/:id/assign. Staff picks the technician.
func (h *AssignmentsHandler) Assign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TechnicianID == "" {
		return apperrors.NewValidationError("technician_id required", nil)
	}
	ticket, err := h.service.AdminAssign(c.UserContext(), principal.Staff, c.Params("id"), req.TechnicianID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// Claim POST /tickets/:id/claim. A technician takes an open install
// ticket; the first committed claim wins.
func (h *AssignmentsHandler) Claim(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Technician == nil {
		return apperrors.NewUnauthorized("technician required")
	}
	ticket, err := h.service.SelfAssign(c.UserContext(), principal.Technician, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// Mine GET /technicians/me/assignments. The authenticated technician's
// assignment list, newest first.
func (h *AssignmentsHandler) Mine(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Technician == nil {
		return apperrors.NewUnauthorized("technician required")
	}
	limit := parseInt(c.Query("page_size"), 20)
	page := parseInt(c.Query("page"), 1)
	assignments, err := h.service.ListForTechnician(c.UserContext(), principal.Technician.ID, limit, (page-1)*limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponses(assignments)})
}

// Confirm POST /tickets/:id/confirm.
func (h *AssignmentsHandler) Confirm(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Action != domain.ConfirmAccept && req.Action != domain.ConfirmDecline {
		return apperrors.NewValidationError("action must be ACCEPT or DECLINE", nil)
	}

	var caller events.Actor
	var callerID, technicianID string
	switch {
	case principal.Technician != nil:
		callerID = principal.Technician.ID
		technicianID = principal.Technician.ID
		caller = events.Actor{Type: domain.SubjectTypeTechnician, TechnicianID: &callerID}
	case principal.Staff != nil:
		if req.TechnicianID == "" {
			return apperrors.NewValidationError("technician_id required", nil)
		}
		callerID = principal.Staff.ID
		technicianID = req.TechnicianID
		caller = events.Actor{Type: domain.SubjectTypeStaff, StaffID: &callerID}
	default:
		return apperrors.NewUnauthorized("authentication required")
	}

	ticket, err := h.service.Confirm(c.UserContext(), caller, callerID, c.Params("id"), technicianID, req.Action)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}
