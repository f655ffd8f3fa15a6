package domain

import "time"

// SubjectType differentiates staff vs technician tokens.
type SubjectType string

const (
	SubjectTypeStaff      SubjectType = "STAFF"
	SubjectTypeTechnician SubjectType = "TECHNICIAN"
)

// Token represents issued authentication token metadata.
type Token struct {
	ID        string
	SubjectID string
	Subject   SubjectType
	Role      *StaffRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
