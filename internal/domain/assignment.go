package domain

import "time"

// AssignmentRole differentiates the lead technician from helpers.
type AssignmentRole string

const (
	AssignmentRolePrimary   AssignmentRole = "PRIMARY"
	AssignmentRoleSecondary AssignmentRole = "SECONDARY"
)

// ConfirmAction is a technician's response to an assignment.
type ConfirmAction string

const (
	ConfirmAccept  ConfirmAction = "ACCEPT"
	ConfirmDecline ConfirmAction = "DECLINE"
)

// Assignment binds one technician to one ticket. It only exists while the
// ticket is ASSIGNED or IN_PROGRESS.
type Assignment struct {
	TicketID     string
	TechnicianID string
	Role         AssignmentRole
	AssignedBy   *string
	AcceptedAt   *time.Time
	AssignedAt   time.Time
}
