package flow

import (
	"context"
	"fmt"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Synthesizer turns prompt text into a cached audio URL.
// Implementations are expected to content-address the result by a hash
// of text and voice so repeated synthesis of the same prompt is free.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (audioURL string, err error)
}

// EnsureAudioCached walks the tree and synthesizes audio for every text
// message that does not yet carry a cached audio URL, writing the URL
// back into the step config. This is a side-effecting precondition for
// persisting a flow, not a validator: a flow must never reach execution
// with an unsynthesized prompt.
func EnsureAudioCached(ctx context.Context, synth Synthesizer, steps []types.Step) error {
	for i := range steps {
		step := &steps[i]
		for _, msg := range stepMessages(step) {
			if msg.Kind != types.MessageText || msg.AudioURL != "" || msg.Text == "" {
				continue
			}
			url, err := synth.Synthesize(ctx, msg.Text, msg.Voice)
			if err != nil {
				return fmt.Errorf("synthesize audio for step %q: %w", step.ID, err)
			}
			msg.AudioURL = url
		}
		for _, branch := range branchLists(step) {
			if err := EnsureAudioCached(ctx, synth, branch); err != nil {
				return err
			}
		}
	}
	return nil
}

// stepMessages returns pointers to every MessageConfig a step owns
func stepMessages(step *types.Step) []*types.MessageConfig {
	var msgs []*types.MessageConfig
	switch step.Type {
	case types.StepGreeting:
		if step.Greeting != nil {
			msgs = append(msgs, &step.Greeting.Message)
		}
	case types.StepMenu:
		if step.Menu != nil {
			msgs = append(msgs, &step.Menu.Message)
		}
	case types.StepKeypad:
		if step.Keypad != nil {
			msgs = append(msgs, &step.Keypad.Message)
		}
	case types.StepVoicemail:
		if step.Voicemail != nil && step.Voicemail.Message != nil {
			msgs = append(msgs, step.Voicemail.Message)
		}
	case types.StepHangup:
		if step.Hangup != nil && step.Hangup.Message != nil {
			msgs = append(msgs, step.Hangup.Message)
		}
	}
	return msgs
}

// branchLists returns mutable references to a step's nested lists
func branchLists(step *types.Step) [][]types.Step {
	var out [][]types.Step
	switch step.Type {
	case types.StepMenu:
		if step.Menu == nil {
			return nil
		}
		for i := range step.Menu.Options {
			out = append(out, step.Menu.Options[i].Steps)
		}
		out = append(out, step.Menu.InvalidInputSteps)
	case types.StepSchedule:
		if step.Schedule == nil {
			return nil
		}
		for i := range step.Schedule.Branches {
			out = append(out, step.Schedule.Branches[i].Steps)
		}
		out = append(out, step.Schedule.FallbackSteps)
	}
	return out
}
