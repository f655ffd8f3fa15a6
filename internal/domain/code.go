package domain

import "time"

// CodePurpose scopes a one-time code to the flow that requested it.
type CodePurpose string

const (
	CodePurposeRegister      CodePurpose = "REGISTER"
	CodePurposeResetPassword CodePurpose = "RESET_PASSWORD"
)

// OneTimeCode stores the hash of a short-lived verification code. The
// plaintext is only ever carried by the Envelope that delivers it.
type OneTimeCode struct {
	ID             string
	SubjectAddress string
	Purpose        CodePurpose
	CodeHash       string
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	Attempts       int
	CreatedAt      time.Time
}

// Consumed reports whether the code has already been used.
func (c *OneTimeCode) Consumed() bool {
	return c.ConsumedAt != nil
}

// Expired reports whether the code is past its validity window.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
