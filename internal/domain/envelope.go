package domain

import "time"

// EnvelopeStatus tracks delivery state of an outbound message.
type EnvelopeStatus string

const (
	EnvelopeStatusPending EnvelopeStatus = "PENDING"
	EnvelopeStatusSent    EnvelopeStatus = "SENT"
	EnvelopeStatusFailed  EnvelopeStatus = "FAILED"
)

// EnvelopeChannel identifies the transport a message goes out on.
type EnvelopeChannel string

const (
	ChannelMessaging EnvelopeChannel = "MESSAGING"
)

// Envelope is a durable record of one outbound message awaiting delivery.
// Status only ever moves PENDING->SENT or PENDING->FAILED, and Attempts is
// monotonically non-decreasing.
type Envelope struct {
	ID               string
	Channel          EnvelopeChannel
	RecipientAddress string
	Body             string
	Status           EnvelopeStatus
	Attempts         int
	LastAttemptAt    *time.Time
	TicketRef        *string
	CreatedAt        time.Time
}
