package types

import "time"

// StepType identifies the behavior of a single flow step
type StepType string

const (
	StepGreeting   StepType = "greeting"
	StepDial       StepType = "dial"
	StepSimulcall  StepType = "simulcall"
	StepRoundRobin StepType = "round_robin"
	StepMenu       StepType = "menu"
	StepSchedule   StepType = "schedule"
	StepKeypad     StepType = "keypad_entry"
	StepTag        StepType = "tag"
	StepVoicemail  StepType = "voicemail"
	StepHangup     StepType = "hangup"
)

// IsTerminal reports whether a step type ends the call.
// Terminal steps may not be followed by siblings at the same nesting level.
func (t StepType) IsTerminal() bool {
	return t == StepVoicemail || t == StepHangup
}

// MessageKind distinguishes synthesized speech from pre-recorded audio
type MessageKind string

const (
	MessageText  MessageKind = "text"  // synthesized from Text with Voice
	MessageAudio MessageKind = "audio" // pre-recorded, AudioURL points at the file
)

// MessageConfig describes a prompt played to the caller.
// Text messages must have AudioURL populated (synthesized and cached)
// before the flow is persisted.
type MessageConfig struct {
	Kind     MessageKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Voice    string      `json:"voice,omitempty"`
	AudioURL string      `json:"audioUrl,omitempty"`
}

// GreetingConfig plays a message and continues to the next step
type GreetingConfig struct {
	Message MessageConfig `json:"message"`
}

// DialConfig bridges the caller to a single destination via conference
type DialConfig struct {
	Destination string `json:"destination"` // phone number, user ID, or email
	TimeoutSecs int    `json:"timeoutSecs,omitempty"`
	CallerID    string `json:"callerId,omitempty"`
	Record      bool   `json:"record,omitempty"`
}

// SimulcallConfig rings all destinations at once; first answer wins
type SimulcallConfig struct {
	Destinations []string `json:"destinations"` // at least 2
	TimeoutSecs  int      `json:"timeoutSecs,omitempty"`
	CallerID     string   `json:"callerId,omitempty"`
	Record       bool     `json:"record,omitempty"`
}

// RoundRobinConfig rings destinations one at a time, in order.
// The attempt index is carried in the callback URL, not in the config.
type RoundRobinConfig struct {
	Destinations []string `json:"destinations"` // at least 2
	TimeoutSecs  int      `json:"timeoutSecs,omitempty"` // per destination
	CallerID     string   `json:"callerId,omitempty"`
	Record       bool     `json:"record,omitempty"`
}

// MenuOption maps a digit to a nested step list
type MenuOption struct {
	Digit string `json:"digit"`
	Steps []Step `json:"steps"`
}

// MenuConfig collects digits and branches on the result
type MenuConfig struct {
	Message           MessageConfig `json:"message"`
	Options           []MenuOption  `json:"options"`
	NumDigits         int           `json:"numDigits,omitempty"`
	TimeoutSecs       int           `json:"timeoutSecs,omitempty"`
	InvalidInputSteps []Step        `json:"invalidInputSteps,omitempty"`
}

// DayPreset names a predefined weekday set for schedule slots
type DayPreset string

const (
	DaysEveryday DayPreset = "everyday"
	DaysWeekdays DayPreset = "weekdays"
	DaysWeekends DayPreset = "weekends"
)

// TimeSlot describes when a schedule branch is active.
// Either Preset or Days is set; StartTime/EndTime are "15:04" local
// to the schedule's timezone unless AllDay is true.
type TimeSlot struct {
	Preset    DayPreset `json:"preset,omitempty"`
	Days      []string  `json:"days,omitempty"` // lowercase weekday names
	AllDay    bool      `json:"allDay,omitempty"`
	StartTime string    `json:"startTime,omitempty"`
	EndTime   string    `json:"endTime,omitempty"`
}

// ScheduleBranch is a named set of time slots with nested steps
type ScheduleBranch struct {
	Name  string     `json:"name"`
	Slots []TimeSlot `json:"slots"`
	Steps []Step     `json:"steps"`
}

// ScheduleConfig routes based on the current time in Timezone.
// Branches are evaluated in definition order; first match wins.
type ScheduleConfig struct {
	Timezone      string           `json:"timezone"`
	Branches      []ScheduleBranch `json:"branches"`
	FallbackSteps []Step           `json:"fallbackSteps,omitempty"`
}

// KeypadConfig collects digits into a named variable, no retry
type KeypadConfig struct {
	Message     MessageConfig `json:"message"`
	Variable    string        `json:"variable"`
	MinDigits   int           `json:"minDigits,omitempty"`
	MaxDigits   int           `json:"maxDigits,omitempty"`
	FinishKey   string        `json:"finishKey,omitempty"`
	TimeoutSecs int           `json:"timeoutSecs,omitempty"`
}

// TagConfig appends a name/value pair to the call record
type TagConfig struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// VoicemailConfig plays a greeting (or a default) and records. Terminal.
type VoicemailConfig struct {
	Message    *MessageConfig `json:"message,omitempty"`
	MaxSecs    int            `json:"maxSecs,omitempty"`
	Transcribe bool           `json:"transcribe,omitempty"`
}

// HangupConfig optionally plays a goodbye before ending. Terminal.
type HangupConfig struct {
	Message *MessageConfig `json:"message,omitempty"`
}

// Step is one node of a call flow. IDs are unique across the entire
// tree, including steps nested inside menu and schedule branches.
// Exactly one config field matching Type is populated.
type Step struct {
	ID    string   `json:"id"`
	Type  StepType `json:"type"`
	Label string   `json:"label,omitempty"`

	Greeting   *GreetingConfig   `json:"greeting,omitempty"`
	Dial       *DialConfig       `json:"dial,omitempty"`
	Simulcall  *SimulcallConfig  `json:"simulcall,omitempty"`
	RoundRobin *RoundRobinConfig `json:"roundRobin,omitempty"`
	Menu       *MenuConfig       `json:"menu,omitempty"`
	Schedule   *ScheduleConfig   `json:"schedule,omitempty"`
	Keypad     *KeypadConfig     `json:"keypad,omitempty"`
	Tag        *TagConfig        `json:"tag,omitempty"`
	Voicemail  *VoicemailConfig  `json:"voicemail,omitempty"`
	Hangup     *HangupConfig     `json:"hangup,omitempty"`
}

// Branches returns the nested step lists owned by this step
// (menu options and invalid-input steps, schedule branches and fallback).
func (s *Step) Branches() [][]Step {
	var out [][]Step
	switch s.Type {
	case StepMenu:
		if s.Menu == nil {
			return nil
		}
		for _, opt := range s.Menu.Options {
			out = append(out, opt.Steps)
		}
		if len(s.Menu.InvalidInputSteps) > 0 {
			out = append(out, s.Menu.InvalidInputSteps)
		}
	case StepSchedule:
		if s.Schedule == nil {
			return nil
		}
		for _, br := range s.Schedule.Branches {
			out = append(out, br.Steps)
		}
		if len(s.Schedule.FallbackSteps) > 0 {
			out = append(out, s.Schedule.FallbackSteps)
		}
	}
	return out
}

// FlowDefinition is the tenant-owned call handling program for a phone line
type FlowDefinition struct {
	TenantID  string    `json:"tenantId" dynamodbav:"TenantID"`
	LineID    string    `json:"lineId" dynamodbav:"LineID"` // the phone line this flow answers
	Name      string    `json:"name" dynamodbav:"Name"`
	Steps     []Step    `json:"steps" dynamodbav:"Steps"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"UpdatedAt"`
}
