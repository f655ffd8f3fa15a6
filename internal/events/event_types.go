package events

import (
	"time"

	"github.com/spec-kit/field-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketApproved      EventType = "ticket_approved"
	EventTicketRejected      EventType = "ticket_rejected"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventAssignmentConfirmed EventType = "assignment_confirmed"
	EventEnvelopeFailed      EventType = "envelope_failed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type         domain.SubjectType `json:"type"`
	StaffID      *string            `json:"staff_id,omitempty"`
	TechnicianID *string            `json:"technician_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Category     domain.TicketCategory `json:"category"`
	Approval     domain.ApprovalState  `json:"approval"`
	CustomerName string                `json:"customer_name"`
}

// TicketApprovedPayload payload.
type TicketApprovedPayload struct {
	NotifiedTechnicians int `json:"notified_technicians"`
}

// TicketRejectedPayload payload.
type TicketRejectedPayload struct {
	Reason string `json:"reason"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Notes     string              `json:"notes,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TechnicianID string `json:"technician_id"`
	SelfAssigned bool   `json:"self_assigned"`
}

// AssignmentConfirmedPayload payload.
type AssignmentConfirmedPayload struct {
	TechnicianID string               `json:"technician_id"`
	Action       domain.ConfirmAction `json:"action"`
	Remaining    int                  `json:"remaining_assignments"`
}

// EnvelopeFailedPayload payload.
type EnvelopeFailedPayload struct {
	EnvelopeID string `json:"envelope_id"`
	Attempts   int    `json:"attempts"`
}
