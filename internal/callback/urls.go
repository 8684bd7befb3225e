// Package callback builds the webhook URLs handed to the telephony
// provider. Every URL carries the resume coordinates (tenant, line,
// call ref, step path, attempt) so a stateless handler can reload its
// position from the request alone.
package callback

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Builder renders callback URLs against the service's public base URL
type Builder struct {
	base string
}

// NewBuilder creates a Builder. base is the externally reachable
// service root, e.g. https://voice.example.com
func NewBuilder(base string) *Builder {
	return &Builder{base: strings.TrimSuffix(base, "/")}
}

func (b *Builder) build(path string, q url.Values) string {
	if len(q) == 0 {
		return b.base + path
	}
	return b.base + path + "?" + q.Encode()
}

func coords(tenantID, lineID, callRef, stepPath string, attempt int) url.Values {
	q := url.Values{}
	q.Set("tenant", tenantID)
	q.Set("line", lineID)
	q.Set("call", callRef)
	q.Set("step", stepPath)
	if attempt > 0 {
		q.Set("attempt", strconv.Itoa(attempt))
	}
	return q
}

// Flow returns the continuation URL for the flow interpreter
func (b *Builder) Flow(tenantID, lineID, callRef, stepPath string, action types.WebhookAction, attempt int) string {
	q := coords(tenantID, lineID, callRef, stepPath, attempt)
	if action != types.ActionDefault {
		q.Set("action", string(action))
	}
	return b.build("/webhooks/flow", q)
}

// Conference returns the conference status callback URL
func (b *Builder) Conference(tenantID, lineID, callRef, stepPath string, attempt int) string {
	return b.build("/webhooks/conference", coords(tenantID, lineID, callRef, stepPath, attempt))
}

// AgentStatus returns the per-leg status callback URL for dialed agents
func (b *Builder) AgentStatus(tenantID, lineID, callRef, stepPath string, action types.WebhookAction, attempt int) string {
	q := coords(tenantID, lineID, callRef, stepPath, attempt)
	if action != types.ActionDefault {
		q.Set("action", string(action))
	}
	return b.build("/webhooks/agent", q)
}

// AgentJoin returns the URL an answering agent leg fetches; it responds
// with markup bridging the agent into the segment's conference
func (b *Builder) AgentJoin(tenantID, lineID, callRef string, attempt int) string {
	q := url.Values{}
	q.Set("tenant", tenantID)
	q.Set("line", lineID)
	q.Set("call", callRef)
	if attempt > 0 {
		q.Set("attempt", strconv.Itoa(attempt))
	}
	return b.build("/webhooks/agent/join", q)
}

// CallerJoin returns the URL a caller leg is redirected to when it must
// be re-bridged into a segment's conference, e.g. after a transfer
func (b *Builder) CallerJoin(tenantID, lineID, callRef string, attempt int) string {
	q := url.Values{}
	q.Set("tenant", tenantID)
	q.Set("line", lineID)
	q.Set("call", callRef)
	q.Set("role", "caller")
	if attempt > 0 {
		q.Set("attempt", strconv.Itoa(attempt))
	}
	return b.build("/webhooks/agent/join", q)
}

// NoticeUnavailable marks a flow continuation URL so the handler speaks
// a "not available" apology before running the addressed step
const NoticeUnavailable = "unavailable"

// WithNotice appends a spoken-notice marker to a flow continuation URL
func WithNotice(flowURL, notice string) string {
	return flowURL + "&notice=" + url.QueryEscape(notice)
}

// Recording returns the recording status callback URL
func (b *Builder) Recording(tenantID, lineID, callRef string) string {
	q := url.Values{}
	q.Set("tenant", tenantID)
	q.Set("line", lineID)
	q.Set("call", callRef)
	return b.build("/webhooks/recording", q)
}

// Transcription returns the transcript delivery callback URL
func (b *Builder) Transcription(tenantID, lineID, callRef string) string {
	q := url.Values{}
	q.Set("tenant", tenantID)
	q.Set("line", lineID)
	q.Set("call", callRef)
	return b.build("/webhooks/transcription", q)
}
