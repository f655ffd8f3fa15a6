package dto

import (
	"time"

	"github.com/spec-kit/field-service/internal/domain"
)

// EnvelopeResponse is the staff view of one outbound message.
type EnvelopeResponse struct {
	ID               string                 `json:"id"`
	Channel          domain.EnvelopeChannel `json:"channel"`
	RecipientAddress string                 `json:"recipient_address"`
	Body             string                 `json:"body"`
	Status           domain.EnvelopeStatus  `json:"status"`
	Attempts         int                    `json:"attempts"`
	LastAttemptAt    *time.Time             `json:"last_attempt_at,omitempty"`
	TicketRef        *string                `json:"ticket_ref,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}
