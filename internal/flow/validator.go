package flow

import (
	"fmt"
	"strconv"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// DuplicateStepIDError reports a step ID that appears more than once
// anywhere in the tree
type DuplicateStepIDError struct {
	StepID string
	Path   string // location of the second occurrence
}

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("duplicate step id %q at %s", e.StepID, e.Path)
}

// MisplacedTerminalStepError reports a voicemail/hangup step that has
// siblings after it at its own nesting level
type MisplacedTerminalStepError struct {
	StepID    string
	Path      string
	Type      types.StepType
	Following int // number of unreachable siblings after the terminal step
}

func (e *MisplacedTerminalStepError) Error() string {
	return fmt.Sprintf("terminal step %q (%s) at %s is followed by %d unreachable step(s)",
		e.StepID, e.Type, e.Path, e.Following)
}

// Validate walks the full step tree and enforces the definition
// invariants: globally unique step IDs and no steps after a terminal
// step at any nesting level. Menu and schedule branches are checked
// recursively. Returns the first violation found.
func Validate(steps []types.Step) error {
	seen := make(map[string]bool)
	return validateList(steps, "steps", seen)
}

func validateList(steps []types.Step, path string, seen map[string]bool) error {
	for i := range steps {
		step := &steps[i]
		stepPath := path + "[" + strconv.Itoa(i) + "]"

		if seen[step.ID] {
			return &DuplicateStepIDError{StepID: step.ID, Path: stepPath}
		}
		seen[step.ID] = true

		if step.Type.IsTerminal() && i < len(steps)-1 {
			return &MisplacedTerminalStepError{
				StepID:    step.ID,
				Path:      stepPath,
				Type:      step.Type,
				Following: len(steps) - 1 - i,
			}
		}

		if err := validateBranches(step, stepPath, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateBranches(step *types.Step, path string, seen map[string]bool) error {
	switch step.Type {
	case types.StepMenu:
		if step.Menu == nil {
			return nil
		}
		for _, opt := range step.Menu.Options {
			branchPath := fmt.Sprintf("%s.option(%s)", path, opt.Digit)
			if err := validateList(opt.Steps, branchPath, seen); err != nil {
				return err
			}
		}
		if len(step.Menu.InvalidInputSteps) > 0 {
			if err := validateList(step.Menu.InvalidInputSteps, path+".invalidInput", seen); err != nil {
				return err
			}
		}
	case types.StepSchedule:
		if step.Schedule == nil {
			return nil
		}
		for _, br := range step.Schedule.Branches {
			branchPath := fmt.Sprintf("%s.branch(%s)", path, br.Name)
			if err := validateList(br.Steps, branchPath, seen); err != nil {
				return err
			}
		}
		if len(step.Schedule.FallbackSteps) > 0 {
			if err := validateList(step.Schedule.FallbackSteps, path+".fallback", seen); err != nil {
				return err
			}
		}
	}
	return nil
}
