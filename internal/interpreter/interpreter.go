// Package interpreter compiles flow steps into call-control markup.
// Execution is stateless: every webhook callback re-enters the
// interpreter with the flow definition, a step path, and the persisted
// segment; durable state lives on the segment, everything else in the
// per-request Context.
package interpreter

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/markup"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Mode controls how synchronous steps continue. Top-level steps
// redirect through the provider so every step is its own request;
// nested branch steps execute inline within one response.
type Mode int

const (
	ModeRedirect Mode = iota
	ModeInline
)

const (
	defaultMenuTimeout   = 5
	defaultKeypadTimeout = 5
	defaultRecordMaxSecs = 120

	goodbyeText   = "Thank you for calling. Goodbye."
	voicemailText = "Please leave a message after the tone."
)

// Context carries the per-request execution state. Segment mutations
// made during execution (scratch coordinates, tags) are persisted by
// the caller as part of its atomic segment update.
type Context struct {
	TenantID string
	LineID   string
	CallID   string
	ChainID  string
	Flow     *types.FlowDefinition
	Segment  *types.CallSegment
	Attempt  int
	Vars     map[string]string
}

// Interpreter executes flow steps into markup responses
type Interpreter struct {
	urls   *callback.Builder
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates an interpreter
func New(urls *callback.Builder, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		urls:   urls,
		logger: logger.With().Str("component", "interpreter").Logger(),
		clock:  time.Now,
	}
}

// ExecuteAt runs the flow from the given step path and returns the
// markup to serve. notice, when non-empty, is spoken before anything
// else (used for "not available" apologies on resolution failures).
func (in *Interpreter) ExecuteAt(ectx *Context, p flow.Path, notice string) (*markup.Response, error) {
	resp := markup.New()
	if notice != "" {
		resp.SayText(notice)
	}
	if err := in.resume(ectx, resp, p); err != nil {
		return nil, err
	}
	return resp, nil
}

// HandleAction dispatches a continuation callback by its action
// discriminator
func (in *Interpreter) HandleAction(ectx *Context, params *types.WebhookParams) (*markup.Response, error) {
	p, err := flow.ParsePath(params.StepPath)
	if err != nil {
		in.logger.Warn().
			Str("call_id", ectx.CallID).
			Str("step", params.StepPath).
			Msg("unparseable step path, ending call")
		return markup.New().SayText(goodbyeText).HangupNow(), nil
	}

	switch params.Action {
	case types.ActionMenu:
		return in.menuChoice(ectx, p, params.Digits)
	case types.ActionMenuInvalid:
		return in.menuInvalid(ectx, p)
	case types.ActionKeypad:
		return in.keypadDone(ectx, p, params.Digits)
	default:
		// Includes round_robin_redirect, which re-runs the dial step
		// with the attempt index already set on the context
		return in.ExecuteAt(ectx, p, "")
	}
}

// resume walks the tree from p, popping to the parent list whenever a
// nested branch is exhausted with only synchronous steps.
func (in *Interpreter) resume(ectx *Context, resp *markup.Response, p flow.Path) error {
	for {
		list, idx, ok := flow.Locate(ectx.Flow.Steps, p)
		if !ok {
			in.logger.Warn().
				Str("call_id", ectx.CallID).
				Str("step", p.String()).
				Msg("step path does not resolve, ending call")
			in.goodbye(resp)
			return nil
		}

		mode := ModeInline
		if len(p) == 1 {
			mode = ModeRedirect
		}
		fin, err := in.run(ectx, resp, list, p[:len(p)-1], idx, mode)
		if err != nil {
			return err
		}
		if fin {
			return nil
		}

		parent, ok := p.Parent()
		if !ok {
			in.goodbye(resp)
			return nil
		}
		p = parent.Advance()
	}
}

// run executes list starting at idx, appending verbs to resp.
// It returns fin=true once the response is complete (an asynchronous
// verb or terminal step was emitted) and fin=false when the list was
// exhausted with only synchronous steps, leaving continuation to the
// caller.
func (in *Interpreter) run(ectx *Context, resp *markup.Response, list []types.Step, base flow.Path, idx int, mode Mode) (bool, error) {
	for {
		if idx >= len(list) {
			if mode == ModeRedirect {
				// Ran off the end of the flow: implicit terminal step
				in.goodbye(resp)
				return true, nil
			}
			return false, nil
		}

		step := &list[idx]
		sp := stepAt(base, idx)

		switch step.Type {
		case types.StepGreeting:
			if step.Greeting != nil {
				resp.Message(&step.Greeting.Message)
			}
			if mode == ModeRedirect {
				resp.RedirectTo(in.flowURL(ectx, sp.Advance(), types.ActionDefault))
				return true, nil
			}
			idx++

		case types.StepTag:
			if step.Tag != nil {
				ectx.Segment.Tags = append(ectx.Segment.Tags, types.TagValue{
					Name:  step.Tag.Name,
					Value: step.Tag.Value,
				})
			}
			idx++

		case types.StepDial, types.StepSimulcall, types.StepRoundRobin:
			in.bridge(ectx, resp, step, sp)
			return true, nil

		case types.StepMenu:
			in.menu(ectx, resp, step, sp)
			return true, nil

		case types.StepKeypad:
			in.keypad(ectx, resp, step, sp)
			return true, nil

		case types.StepSchedule:
			selector, steps := in.scheduleBranch(ectx, step)
			if selector == "" {
				idx++
				continue
			}
			fin, err := in.run(ectx, resp, steps, append(sp, selector), 0, ModeInline)
			if err != nil {
				return true, err
			}
			if fin {
				return true, nil
			}
			idx++

		case types.StepVoicemail:
			in.voicemail(ectx, resp, step)
			return true, nil

		case types.StepHangup:
			if step.Hangup != nil && step.Hangup.Message != nil {
				resp.Message(step.Hangup.Message)
			}
			resp.HangupNow()
			return true, nil

		default:
			in.logger.Warn().
				Str("call_id", ectx.CallID).
				Str("step_id", step.ID).
				Str("type", string(step.Type)).
				Msg("unknown step type, skipping")
			idx++
		}
	}
}

// bridge emits the conference verb for a dial-type step and records the
// resume coordinates on the segment scratch. Outbound legs are placed
// when the caller's conference join callback arrives.
func (in *Interpreter) bridge(ectx *Context, resp *markup.Response, step *types.Step, sp flow.Path) {
	seg := ectx.Segment
	confName := fmt.Sprintf("conf_%s_%d", seg.CallID, ectx.Attempt)

	seg.ConferenceName = confName
	seg.Scratch = types.ScratchState{
		SchemaVersion: types.ScratchSchemaVersion,
		StepPath:      sp.String(),
		Attempt:       ectx.Attempt,
	}

	conf := &markup.Conference{
		StartConferenceOnEnter: true,
		EndConferenceOnExit:    true,
		StatusCallback:         in.urls.Conference(ectx.TenantID, ectx.LineID, seg.CallID, sp.String(), ectx.Attempt),
		StatusCallbackEvent:    "join leave",
		Name:                   confName,
	}
	if stepRecords(step) {
		conf.Record = "record-from-start"
		conf.RecordingStatusCallback = in.urls.Recording(ectx.TenantID, ectx.LineID, seg.CallID)
	}

	resp.Add(&markup.Dial{Conference: conf})
}

func (in *Interpreter) menu(ectx *Context, resp *markup.Response, step *types.Step, sp flow.Path) {
	cfg := step.Menu
	if cfg == nil {
		resp.RedirectTo(in.flowURL(ectx, sp.Advance(), types.ActionDefault))
		return
	}

	numDigits := cfg.NumDigits
	if numDigits == 0 {
		numDigits = 1
	}
	timeout := cfg.TimeoutSecs
	if timeout == 0 {
		timeout = defaultMenuTimeout
	}

	g := &markup.Gather{
		Action:    in.flowURL(ectx, sp, types.ActionMenu),
		Method:    "POST",
		NumDigits: numDigits,
		Timeout:   timeout,
	}
	if prompt := markup.MessagePrompt(&cfg.Message); prompt != nil {
		g.Prompts = append(g.Prompts, prompt)
	}
	resp.Add(g)

	// No digits within the timeout falls through the Gather
	resp.RedirectTo(in.flowURL(ectx, sp, types.ActionMenuInvalid))
}

func (in *Interpreter) keypad(ectx *Context, resp *markup.Response, step *types.Step, sp flow.Path) {
	cfg := step.Keypad
	if cfg == nil {
		resp.RedirectTo(in.flowURL(ectx, sp.Advance(), types.ActionDefault))
		return
	}

	timeout := cfg.TimeoutSecs
	if timeout == 0 {
		timeout = defaultKeypadTimeout
	}

	g := &markup.Gather{
		Action:      in.flowURL(ectx, sp, types.ActionKeypad),
		Method:      "POST",
		NumDigits:   cfg.MaxDigits,
		Timeout:     timeout,
		FinishOnKey: cfg.FinishKey,
	}
	if prompt := markup.MessagePrompt(&cfg.Message); prompt != nil {
		g.Prompts = append(g.Prompts, prompt)
	}
	resp.Add(g)

	// Keypad entry never retries: timeout continues to the next step
	resp.RedirectTo(in.flowURL(ectx, sp, types.ActionKeypad))
}

func (in *Interpreter) voicemail(ectx *Context, resp *markup.Response, step *types.Step) {
	ectx.Segment.Status = types.StatusVoicemail

	cfg := step.Voicemail
	if cfg != nil && cfg.Message != nil {
		resp.Message(cfg.Message)
	} else {
		resp.SayText(voicemailText)
	}

	maxSecs := defaultRecordMaxSecs
	transcribe := false
	if cfg != nil {
		if cfg.MaxSecs > 0 {
			maxSecs = cfg.MaxSecs
		}
		transcribe = cfg.Transcribe
	}

	rec := &markup.Record{
		Action:                  in.urls.Recording(ectx.TenantID, ectx.LineID, ectx.CallID),
		Method:                  "POST",
		MaxLength:               maxSecs,
		PlayBeep:                true,
		RecordingStatusCallback: in.urls.Recording(ectx.TenantID, ectx.LineID, ectx.CallID),
	}
	if transcribe {
		rec.Transcribe = true
		rec.TranscribeCallback = in.urls.Transcription(ectx.TenantID, ectx.LineID, ectx.CallID)
	}
	resp.Add(rec)
}

// menuChoice matches gathered digits against the menu's options and
// executes the matching branch inline
func (in *Interpreter) menuChoice(ectx *Context, p flow.Path, digits string) (*markup.Response, error) {
	step, ok := flow.LocateStep(ectx.Flow.Steps, p)
	if !ok || step.Type != types.StepMenu || step.Menu == nil {
		in.logger.Warn().
			Str("call_id", ectx.CallID).
			Str("step", p.String()).
			Msg("menu callback for a non-menu step")
		return markup.New().SayText(goodbyeText).HangupNow(), nil
	}

	for i, opt := range step.Menu.Options {
		if opt.Digit == digits {
			resp := markup.New()
			err := in.resume(ectx, resp, p.Child(fmt.Sprintf("o%d", i), 0))
			return resp, err
		}
	}
	return in.menuInvalid(ectx, p)
}

// menuInvalid executes the invalid-input branch, or hangs up when the
// flow does not define one
func (in *Interpreter) menuInvalid(ectx *Context, p flow.Path) (*markup.Response, error) {
	step, ok := flow.LocateStep(ectx.Flow.Steps, p)
	if ok && step.Type == types.StepMenu && step.Menu != nil && len(step.Menu.InvalidInputSteps) > 0 {
		resp := markup.New()
		err := in.resume(ectx, resp, p.Child("i", 0))
		return resp, err
	}
	return markup.New().HangupNow(), nil
}

// keypadDone stores the collected digits and continues with the next
// step regardless of the outcome. Entries shorter than MinDigits are
// treated like a timeout: nothing is stored.
func (in *Interpreter) keypadDone(ectx *Context, p flow.Path, digits string) (*markup.Response, error) {
	if step, ok := flow.LocateStep(ectx.Flow.Steps, p); ok && step.Type == types.StepKeypad && step.Keypad != nil {
		if step.Keypad.Variable != "" && digits != "" && len(digits) >= step.Keypad.MinDigits {
			if ectx.Vars == nil {
				ectx.Vars = make(map[string]string)
			}
			ectx.Vars[step.Keypad.Variable] = digits
		}
	}
	return in.ExecuteAt(ectx, p.Advance(), "")
}

func (in *Interpreter) goodbye(resp *markup.Response) {
	resp.SayText(goodbyeText).HangupNow()
}

func (in *Interpreter) flowURL(ectx *Context, p flow.Path, action types.WebhookAction) string {
	return in.urls.Flow(ectx.TenantID, ectx.LineID, ectx.CallID, p.String(), action, 0)
}

func stepAt(base flow.Path, idx int) flow.Path {
	return append(base[:len(base):len(base)], fmt.Sprintf("%d", idx))
}

func stepRecords(step *types.Step) bool {
	switch step.Type {
	case types.StepDial:
		return step.Dial != nil && step.Dial.Record
	case types.StepSimulcall:
		return step.Simulcall != nil && step.Simulcall.Record
	case types.StepRoundRobin:
		return step.RoundRobin != nil && step.RoundRobin.Record
	}
	return false
}
