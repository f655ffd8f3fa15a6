package domain

import "time"

// TicketCategory distinguishes the two kinds of field work.
type TicketCategory string

const (
	TicketCategoryInstall TicketCategory = "INSTALL"
	TicketCategoryRepair  TicketCategory = "REPAIR"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusAssigned   TicketStatus = "ASSIGNED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// ApprovalState gates a ticket before it becomes visible to technicians.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

// Ticket is the aggregate for a unit of field work.
type Ticket struct {
	ID              string
	ExternalKey     string
	Category        TicketCategory
	Status          TicketStatus
	Approval        ApprovalState
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	Details         string
	CreatedBy       string
	ScheduledAt     *time.Time
	CompletedAt     *time.Time
	EvidenceURL     *string
	Notes           *string
	RejectReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether no further status transition is allowed.
func (t *Ticket) Terminal() bool {
	return t.Status == TicketStatusCompleted || t.Status == TicketStatusCancelled
}
