// Package telephony wraps the provider's REST call-control API.
// Orchestration code depends only on the Client interface so it can be
// tested against a fake implementation.
package telephony

import "context"

// CallRequest describes an outbound call to place
type CallRequest struct {
	From string // caller ID shown to the destination
	To   string // phone number or client:tenant:userId

	// URL returns the markup to run when the destination answers
	URL string

	// StatusCallback receives per-leg status events
	StatusCallback string

	// StatusCallbackEvents selects which events are delivered
	StatusCallbackEvents []string

	// TimeoutSecs is how long to let the destination ring
	TimeoutSecs int
}

// Client is the telephony-provider call-control surface used by the
// orchestrators. All operations are best-effort from the caller's point
// of view: a failed termination is logged and the flow continues,
// because the leg has usually already ended on its own.
type Client interface {
	// PlaceCall starts an outbound call and returns the provider leg ID
	PlaceCall(ctx context.Context, req CallRequest) (legID string, err error)

	// TerminateCall hangs up a live leg
	TerminateCall(ctx context.Context, legID string) error

	// RedirectCall points a live leg at a new markup URL
	RedirectCall(ctx context.Context, legID, url string) error
}
