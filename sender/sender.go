package sender

import "context"

// Sender is the transport used by the authenticator and the dispatcher.
// Per-request failures come back as an Outcome; the error return is
// reserved for requests that were never attempted (see ErrInvalidURL).
type Sender interface {
	Send(ctx context.Context, req Request) (Outcome, error)
}
