package domain

import "time"

// Technician models a field worker who executes tickets.
type Technician struct {
	ID           string
	Name         string
	Phone        string
	PasswordHash string
	Active       bool
	Available    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
