package types

// WebhookAction discriminates flow continuation callbacks
type WebhookAction string

const (
	ActionDefault            WebhookAction = ""
	ActionMenu               WebhookAction = "menu"
	ActionMenuInvalid        WebhookAction = "menu_invalid"
	ActionRoundRobin         WebhookAction = "round_robin"
	ActionRoundRobinRedirect WebhookAction = "round_robin_redirect"
	ActionKeypad             WebhookAction = "keypad"
)

// Call status values delivered on agent leg callbacks.
// Everything except "answered" and "in-progress" counts as the leg
// ending without ever joining the conference.
const (
	LegStatusAnswered   = "answered"
	LegStatusInProgress = "in-progress"
	LegStatusCompleted  = "completed"
	LegStatusNoAnswer   = "no-answer"
	LegStatusBusy       = "busy"
	LegStatusFailed     = "failed"
	LegStatusCanceled   = "canceled"
)

// Conference participant events delivered on conference callbacks
const (
	ConferenceJoin  = "participant-join"
	ConferenceLeave = "participant-leave"
)

// WebhookParams carries everything a provider callback delivers.
// Query parameters address the flow position; form fields carry the
// provider's view of the call.
type WebhookParams struct {
	// From the callback URL
	TenantID string
	LineID   string
	StepPath string
	Action   WebhookAction
	Attempt  int
	CallRef  string // segment caller-leg ID the URL was generated for

	// From the provider's form body
	CallID            string // leg the event is about
	From              string
	To                string
	Digits            string
	CallStatus        string
	ConferenceID      string
	ConferenceName    string
	ConferenceEvent   string
	RecordingURL      string
	RecordingDuration float64
}
