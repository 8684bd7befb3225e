package flow

import (
	"errors"
	"testing"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

func greeting(id string) types.Step {
	return types.Step{
		ID:   id,
		Type: types.StepGreeting,
		Greeting: &types.GreetingConfig{
			Message: types.MessageConfig{Kind: types.MessageText, Text: "hello"},
		},
	}
}

func hangup(id string) types.Step {
	return types.Step{ID: id, Type: types.StepHangup}
}

func TestValidateAcceptsNestedTree(t *testing.T) {
	steps := []types.Step{
		greeting("s1"),
		{
			ID:   "s2",
			Type: types.StepMenu,
			Menu: &types.MenuConfig{
				Message: types.MessageConfig{Kind: types.MessageText, Text: "press 1"},
				Options: []types.MenuOption{
					{Digit: "1", Steps: []types.Step{greeting("s3"), hangup("s4")}},
					{Digit: "2", Steps: []types.Step{hangup("s5")}},
				},
				InvalidInputSteps: []types.Step{hangup("s6")},
			},
		},
	}

	if err := Validate(steps); err != nil {
		t.Fatalf("expected valid tree, got %v", err)
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	tests := []struct {
		name  string
		steps []types.Step
	}{
		{
			name:  "top level",
			steps: []types.Step{greeting("dup"), greeting("dup")},
		},
		{
			name: "across nesting levels",
			steps: []types.Step{
				greeting("dup"),
				{
					ID:   "menu",
					Type: types.StepMenu,
					Menu: &types.MenuConfig{
						Options: []types.MenuOption{
							{Digit: "1", Steps: []types.Step{greeting("dup")}},
						},
					},
				},
			},
		},
		{
			name: "between sibling branches",
			steps: []types.Step{
				{
					ID:   "sched",
					Type: types.StepSchedule,
					Schedule: &types.ScheduleConfig{
						Timezone: "UTC",
						Branches: []types.ScheduleBranch{
							{Name: "open", Steps: []types.Step{greeting("dup")}},
						},
						FallbackSteps: []types.Step{greeting("dup")},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.steps)
			var dupErr *DuplicateStepIDError
			if !errors.As(err, &dupErr) {
				t.Fatalf("expected DuplicateStepIDError, got %v", err)
			}
			if dupErr.StepID != "dup" {
				t.Errorf("expected step id dup, got %s", dupErr.StepID)
			}
		})
	}
}

func TestValidateRejectsStepsAfterTerminal(t *testing.T) {
	tests := []struct {
		name  string
		steps []types.Step
	}{
		{
			name:  "hangup followed by greeting",
			steps: []types.Step{hangup("end"), greeting("unreachable")},
		},
		{
			name: "voicemail followed by two steps",
			steps: []types.Step{
				{ID: "vm", Type: types.StepVoicemail, Voicemail: &types.VoicemailConfig{}},
				greeting("a"),
				greeting("b"),
			},
		},
		{
			name: "terminal inside menu option",
			steps: []types.Step{
				{
					ID:   "menu",
					Type: types.StepMenu,
					Menu: &types.MenuConfig{
						Options: []types.MenuOption{
							{Digit: "1", Steps: []types.Step{hangup("end"), greeting("unreachable")}},
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.steps)
			var termErr *MisplacedTerminalStepError
			if !errors.As(err, &termErr) {
				t.Fatalf("expected MisplacedTerminalStepError, got %v", err)
			}
			if termErr.Following < 1 {
				t.Errorf("expected at least 1 unreachable step, got %d", termErr.Following)
			}
		})
	}
}

func TestValidateAllowsTerminalAsLastStep(t *testing.T) {
	steps := []types.Step{greeting("s1"), hangup("s2")}
	if err := Validate(steps); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateEmptyFlow(t *testing.T) {
	if err := Validate(nil); err != nil {
		t.Fatalf("expected empty flow to validate, got %v", err)
	}
}
