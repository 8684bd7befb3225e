package webhooks

import (
	"net/http"
	"strconv"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// parseParams collects the resume coordinates from the callback URL and
// the provider's view of the call from the form body
func parseParams(r *http.Request) *types.WebhookParams {
	_ = r.ParseForm()
	q := r.URL.Query()

	attempt, _ := strconv.Atoi(q.Get("attempt"))
	duration, _ := strconv.ParseFloat(r.PostFormValue("RecordingDuration"), 64)

	return &types.WebhookParams{
		TenantID: q.Get("tenant"),
		LineID:   q.Get("line"),
		StepPath: q.Get("step"),
		Action:   types.WebhookAction(q.Get("action")),
		Attempt:  attempt,
		CallRef:  q.Get("call"),

		CallID:            r.PostFormValue("CallSid"),
		From:              r.PostFormValue("From"),
		To:                r.PostFormValue("To"),
		Digits:            r.PostFormValue("Digits"),
		CallStatus:        r.PostFormValue("CallStatus"),
		ConferenceID:      r.PostFormValue("ConferenceSid"),
		ConferenceName:    r.PostFormValue("FriendlyName"),
		ConferenceEvent:   r.PostFormValue("StatusCallbackEvent"),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: duration,
	}
}
