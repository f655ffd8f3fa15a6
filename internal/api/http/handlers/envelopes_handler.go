package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/api/dto"
	"github.com/spec-kit/field-service/internal/domain"
	"github.com/spec-kit/field-service/internal/service"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

// EnvelopesHandler exposes the staff view of the outbound message queue.
type EnvelopesHandler struct {
	service *service.EnvelopeService
}

// NewEnvelopesHandler constructs handler.
func NewEnvelopesHandler(envelopeService *service.EnvelopeService) *EnvelopesHandler {
	return &EnvelopesHandler{service: envelopeService}
}

// List GET /envelopes?status=FAILED.
func (h *EnvelopesHandler) List(c *fiber.Ctx) error {
	statusStr := strings.TrimSpace(c.Query("status"))
	if statusStr == "" {
		return apperrors.NewValidationError("status query parameter required", nil)
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	envelopes, err := h.service.List(c.UserContext(), domain.EnvelopeStatus(statusStr), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.EnvelopeResponse, 0, len(envelopes))
	for i := range envelopes {
		items = append(items, envelopeResponse(&envelopes[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Retry POST /envelopes/:id/retry. Only FAILED envelopes are retryable.
func (h *EnvelopesHandler) Retry(c *fiber.Ctx) error {
	envelope, err := h.service.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": envelopeResponse(envelope)})
}

func envelopeResponse(envelope *domain.Envelope) dto.EnvelopeResponse {
	return dto.EnvelopeResponse{
		ID:               envelope.ID,
		Channel:          envelope.Channel,
		RecipientAddress: envelope.RecipientAddress,
		Body:             envelope.Body,
		Status:           envelope.Status,
		Attempts:         envelope.Attempts,
		LastAttemptAt:    envelope.LastAttemptAt,
		TicketRef:        envelope.TicketRef,
		CreatedAt:        envelope.CreatedAt,
	}
}
