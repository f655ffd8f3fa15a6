package domain

import "time"

// StaffRole enumerates office operator roles.
type StaffRole string

const (
	StaffRoleOfficer StaffRole = "OFFICER"
	StaffRoleAdmin   StaffRole = "ADMIN"
	// StaffRoleSystem marks trusted integrations whose tickets skip the
	// approval gate.
	StaffRoleSystem StaffRole = "SYSTEM"
)

// StaffMember models an office operator or administrator.
type StaffMember struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         StaffRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
