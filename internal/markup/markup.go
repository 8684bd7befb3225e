// Package markup builds the call-control documents returned to the
// telephony provider from webhook handlers. The provider interprets the
// verbs in document order against the live call.
package markup

import (
	"encoding/xml"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Say speaks text to the caller with the given synthesis voice
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Play plays an audio file to the caller
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Gather collects digits and posts them to Action. Nested verbs play
// while the provider waits for input; if no digits arrive within
// Timeout the provider continues with the verbs after the Gather.
type Gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Action      string   `xml:"action,attr"`
	Method      string   `xml:"method,attr"`
	NumDigits   int      `xml:"numDigits,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Prompts     []any
}

// Conference bridges the current call into a named conference
type Conference struct {
	XMLName                 xml.Name `xml:"Conference"`
	StartConferenceOnEnter  bool     `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit     bool     `xml:"endConferenceOnExit,attr"`
	StatusCallback          string   `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent     string   `xml:"statusCallbackEvent,attr,omitempty"`
	Record                  string   `xml:"record,attr,omitempty"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	Name                    string   `xml:",chardata"`
}

// Dial places or bridges a call; here it always wraps a Conference
type Dial struct {
	XMLName    xml.Name `xml:"Dial"`
	Timeout    int      `xml:"timeout,attr,omitempty"`
	CallerID   string   `xml:"callerId,attr,omitempty"`
	Conference *Conference
}

// Redirect transfers document control to another URL
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

// Record records the caller and posts the result to Action
type Record struct {
	XMLName                 xml.Name `xml:"Record"`
	Action                  string   `xml:"action,attr"`
	Method                  string   `xml:"method,attr"`
	MaxLength               int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                bool     `xml:"playBeep,attr"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	Transcribe              bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback      string   `xml:"transcribeCallback,attr,omitempty"`
}

// Hangup ends the call
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response is one call-control document
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// New returns an empty response document
func New() *Response {
	return &Response{}
}

// Add appends verbs to the document
func (r *Response) Add(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Message appends the right playback verb for a prompt: Play when a
// cached or pre-recorded audio URL exists, Say otherwise.
func (r *Response) Message(msg *types.MessageConfig) *Response {
	if msg == nil {
		return r
	}
	if msg.AudioURL != "" {
		return r.Add(&Play{URL: msg.AudioURL})
	}
	if msg.Text != "" {
		return r.Add(&Say{Voice: msg.Voice, Text: msg.Text})
	}
	return r
}

// SayText appends a plain spoken message with the default voice
func (r *Response) SayText(text string) *Response {
	return r.Add(&Say{Text: text})
}

// RedirectTo appends a POST redirect
func (r *Response) RedirectTo(url string) *Response {
	return r.Add(&Redirect{Method: "POST", URL: url})
}

// HangupNow appends a Hangup verb
func (r *Response) HangupNow() *Response {
	return r.Add(&Hangup{})
}

// Render serializes the document with the XML header
func (r *Response) Render() (string, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}
	return xml.Header + string(body), nil
}

// MessagePrompt returns the playback verb for use inside a Gather
func MessagePrompt(msg *types.MessageConfig) any {
	if msg == nil {
		return nil
	}
	if msg.AudioURL != "" {
		return &Play{URL: msg.AudioURL}
	}
	if msg.Text != "" {
		return &Say{Voice: msg.Voice, Text: msg.Text}
	}
	return nil
}
