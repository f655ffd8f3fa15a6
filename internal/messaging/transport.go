package messaging

import "context"

// Transport is the external messaging channel collaborator. It owns
// connectivity and actual transmission; callers only learn delivered vs
// unreachable. Injected into both the inline best-effort send path and the
// dispatch loop so no process-global connection state exists.
type Transport interface {
	// Send delivers one message. Implementations must bound the call with
	// their own timeout; a non-nil error means unreachable.
	Send(ctx context.Context, address, body string) error
	// Connected reports whether the transport currently believes it can
	// deliver. Used only for the inline best-effort path.
	Connected() bool
}
