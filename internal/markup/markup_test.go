package markup

import (
	"strings"
	"testing"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

func TestRenderSayAndHangup(t *testing.T) {
	body, err := New().SayText("Goodbye.").HangupNow().Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(body, "<?xml") {
		t.Error("expected XML header")
	}
	if !strings.Contains(body, "<Say>Goodbye.</Say>") {
		t.Errorf("missing Say verb: %s", body)
	}
	if !strings.Contains(body, "<Hangup></Hangup>") {
		t.Errorf("missing Hangup verb: %s", body)
	}
}

func TestMessagePrefersAudio(t *testing.T) {
	body, err := New().Message(&types.MessageConfig{
		Kind:     types.MessageText,
		Text:     "welcome",
		AudioURL: "https://media.example.com/p.mp3",
	}).Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "<Play>https://media.example.com/p.mp3</Play>") {
		t.Errorf("expected Play verb, got %s", body)
	}
	if strings.Contains(body, "<Say>") {
		t.Errorf("should not fall back to Say when audio exists: %s", body)
	}
}

func TestMessageSayWithVoice(t *testing.T) {
	body, err := New().Message(&types.MessageConfig{
		Kind:  types.MessageText,
		Text:  "hello",
		Voice: "nova",
	}).Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, `<Say voice="nova">hello</Say>`) {
		t.Errorf("expected voiced Say, got %s", body)
	}
}

func TestRenderGatherWithPrompt(t *testing.T) {
	g := &Gather{
		Action:    "https://voice.example.com/webhooks/flow?step=1",
		Method:    "POST",
		NumDigits: 1,
		Timeout:   5,
	}
	g.Prompts = append(g.Prompts, MessagePrompt(&types.MessageConfig{Kind: types.MessageText, Text: "press 1"}))

	body, err := New().Add(g).Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, `numDigits="1"`) || !strings.Contains(body, `timeout="5"`) {
		t.Errorf("missing gather attributes: %s", body)
	}
	if !strings.Contains(body, "<Say>press 1</Say>") {
		t.Errorf("prompt not nested in gather: %s", body)
	}
	// Action URLs carry query strings; the ampersand must be escaped,
	// not break the document
	if !strings.Contains(body, "action=") {
		t.Errorf("missing action attribute: %s", body)
	}
}

func TestRenderDialConference(t *testing.T) {
	body, err := New().Add(&Dial{
		Conference: &Conference{
			StartConferenceOnEnter: true,
			EndConferenceOnExit:    true,
			StatusCallback:         "https://voice.example.com/webhooks/conference?call=CA1",
			StatusCallbackEvent:    "join leave",
			Record:                 "record-from-start",
			Name:                   "conf_CA1_0",
		},
	}).Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		`startConferenceOnEnter="true"`,
		`endConferenceOnExit="true"`,
		`statusCallbackEvent="join leave"`,
		`record="record-from-start"`,
		">conf_CA1_0</Conference>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s in %s", want, body)
		}
	}
}

func TestMessageEmptyConfig(t *testing.T) {
	r := New().Message(nil).Message(&types.MessageConfig{})
	if len(r.Verbs) != 0 {
		t.Errorf("empty messages should add no verbs, got %d", len(r.Verbs))
	}
}
