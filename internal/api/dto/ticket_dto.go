package dto

import (
	"time"

	"github.com/spec-kit/field-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Category        domain.TicketCategory `json:"category"`
	CustomerName    string                `json:"customer_name"`
	CustomerAddress string                `json:"customer_address"`
	CustomerPhone   string                `json:"customer_phone"`
	Details         string                `json:"details"`
	ScheduledAt     *time.Time            `json:"scheduled_at,omitempty"`
}

// RejectTicketRequest payload.
type RejectTicketRequest struct {
	Reason string `json:"reason"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status      domain.TicketStatus `json:"status"`
	Notes       string              `json:"notes,omitempty"`
	EvidenceURL string              `json:"evidence_url,omitempty"`
}

// TicketSummary response.
type TicketSummary struct {
	ID           string                `json:"id"`
	ExternalKey  string                `json:"external_key"`
	Category     domain.TicketCategory `json:"category"`
	Status       domain.TicketStatus   `json:"status"`
	Approval     domain.ApprovalState  `json:"approval"`
	CustomerName string                `json:"customer_name"`
	ScheduledAt  *time.Time            `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	ID              string                `json:"id"`
	ExternalKey     string                `json:"external_key"`
	Category        domain.TicketCategory `json:"category"`
	Status          domain.TicketStatus   `json:"status"`
	Approval        domain.ApprovalState  `json:"approval"`
	CustomerName    string                `json:"customer_name"`
	CustomerAddress string                `json:"customer_address"`
	CustomerPhone   string                `json:"customer_phone"`
	Details         string                `json:"details"`
	CreatedBy       string                `json:"created_by"`
	ScheduledAt     *time.Time            `json:"scheduled_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	EvidenceURL     *string               `json:"evidence_url,omitempty"`
	Notes           *string               `json:"notes,omitempty"`
	RejectReason    *string               `json:"reject_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Assignments     []AssignmentResponse  `json:"assignments"`
}

// AssignmentResponse represents one technician binding.
type AssignmentResponse struct {
	TicketID     string                `json:"ticket_id"`
	TechnicianID string                `json:"technician_id"`
	Role         domain.AssignmentRole `json:"role"`
	AssignedBy   *string               `json:"assigned_by,omitempty"`
	AcceptedAt   *time.Time            `json:"accepted_at,omitempty"`
	AssignedAt   time.Time             `json:"assigned_at"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID            string                  `json:"id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	ChangedByType domain.SubjectType      `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id,omitempty"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	CreatedAt     time.Time               `json:"created_at"`
}

// AssignRequest payload for staff assignment.
type AssignRequest struct {
	TechnicianID string `json:"technician_id"`
}

// ConfirmRequest payload for a technician's assignment response. Staff
// confirming on behalf of a technician must set technician_id.
type ConfirmRequest struct {
	Action       domain.ConfirmAction `json:"action"`
	TechnicianID string               `json:"technician_id,omitempty"`
}
