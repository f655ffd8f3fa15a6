package dto

import "time"

// CreateTechnicianRequest payload for staff-created accounts.
type CreateTechnicianRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// SetActiveRequest payload.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetAvailableRequest payload.
type SetAvailableRequest struct {
	Available bool `json:"available"`
}

// TechnicianResponse omits credentials.
type TechnicianResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
