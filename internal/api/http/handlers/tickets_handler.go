package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/api/dto"
	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/repository"
	"github.com/spec-kit/field-service/internal/service"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// TicketsHandler manages staff-facing ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// Create POST /tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Create(c.UserContext(), principal.Staff, service.TicketCreateInput{
		Category:        req.Category,
		CustomerName:    req.CustomerName,
		CustomerAddress: req.CustomerAddress,
		CustomerPhone:   req.CustomerPhone,
		Details:         req.Details,
		ScheduledAt:     req.ScheduledAt,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// List GET /tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	tickets, err := h.service.List(c.UserContext(), parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, assignments, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, assignments)})
}

// Approve POST /tickets/:id/approve.
func (h *TicketsHandler) Approve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	ticket, err := h.service.Approve(c.UserContext(), principal.Staff, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// Reject POST /tickets/:id/reject.
func (h *TicketsHandler) Reject(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.RejectTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperrors.NewValidationError("reason required", nil)
	}
	ticket, err := h.service.Reject(c.UserContext(), principal.Staff, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// UpdateStatus PATCH /tickets/:id/status. Staff may move any ticket;
// technicians only tickets they are assigned to.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticketID := c.Params("id")

	actor, actorID, err := h.resolveActor(c, principal, ticketID)
	if err != nil {
		return err
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), actor, actorID, ticketID, service.StatusUpdateInput{
		NewStatus:   req.Status,
		Notes:       req.Notes,
		EvidenceURL: req.EvidenceURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// Delete DELETE /tickets/:id.
func (h *TicketsHandler) Delete(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	if err := h.service.Delete(c.UserContext(), principal.Staff, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.service.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.TicketHistoryResponse{
			ID:            entry.ID,
			ChangeType:    entry.ChangeType,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			OldValue:      entry.OldValue,
			NewValue:      entry.NewValue,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListClaimable GET /tickets/claimable. Technician view of open approved
// install tickets.
func (h *TicketsHandler) ListClaimable(c *fiber.Ctx) error {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	tickets, err := h.service.ListClaimable(c.UserContext(), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func (h *TicketsHandler) resolveActor(c *fiber.Ctx, principal *auth.Principal, ticketID string) (events.Actor, string, error) {
	switch {
	case principal.Staff != nil:
		staffID := principal.Staff.ID
		return events.Actor{Type: domain.SubjectTypeStaff, StaffID: &staffID}, staffID, nil
	case principal.Technician != nil:
		technicianID := principal.Technician.ID
		_, assignments, err := h.service.Get(c.UserContext(), ticketID)
		if err != nil {
			return events.Actor{}, "", err
		}
		for i := range assignments {
			if assignments[i].TechnicianID == technicianID {
				return events.Actor{Type: domain.SubjectTypeTechnician, TechnicianID: &technicianID}, technicianID, nil
			}
		}
		return events.Actor{}, "", apperrors.NewForbidden("ticket is not assigned to you")
	default:
		return events.Actor{}, "", apperrors.NewUnauthorized("authentication required")
	}
}

func parseTicketQuery(c *fiber.Ctx) repository.TicketFilter {
	filter := repository.TicketFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.TrimSpace(part)))
		}
	}
	if approvalStr := c.Query("approval"); approvalStr != "" {
		approval := domain.ApprovalState(strings.TrimSpace(approvalStr))
		filter.Approval = &approval
	}
	if categoryStr := c.Query("category"); categoryStr != "" {
		category := domain.TicketCategory(strings.TrimSpace(categoryStr))
		filter.Category = &category
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:           ticket.ID,
		ExternalKey:  ticket.ExternalKey,
		Category:     ticket.Category,
		Status:       ticket.Status,
		Approval:     ticket.Approval,
		CustomerName: ticket.CustomerName,
		ScheduledAt:  ticket.ScheduledAt,
		CreatedAt:    ticket.CreatedAt,
		UpdatedAt:    ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, assignments []domain.Assignment) dto.TicketDetailResponse {
	return dto.TicketDetailResponse{
		ID:              ticket.ID,
		ExternalKey:     ticket.ExternalKey,
		Category:        ticket.Category,
		Status:          ticket.Status,
		Approval:        ticket.Approval,
		CustomerName:    ticket.CustomerName,
		CustomerAddress: ticket.CustomerAddress,
		CustomerPhone:   ticket.CustomerPhone,
		Details:         ticket.Details,
		CreatedBy:       ticket.CreatedBy,
		ScheduledAt:     ticket.ScheduledAt,
		CompletedAt:     ticket.CompletedAt,
		EvidenceURL:     ticket.EvidenceURL,
		Notes:           ticket.Notes,
		RejectReason:    ticket.RejectReason,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
		Assignments:     assignmentResponses(assignments),
	}
}

func assignmentResponses(assignments []domain.Assignment) []dto.AssignmentResponse {
	items := make([]dto.AssignmentResponse, 0, len(assignments))
	for i := range assignments {
		items = append(items, dto.AssignmentResponse{
			TicketID:     assignments[i].TicketID,
			TechnicianID: assignments[i].TechnicianID,
			Role:         assignments[i].Role,
			AssignedBy:   assignments[i].AssignedBy,
			AcceptedAt:   assignments[i].AcceptedAt,
			AssignedAt:   assignments[i].AssignedAt,
		})
	}
	return items
}
