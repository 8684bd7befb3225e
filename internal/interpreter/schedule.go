package interpreter

import (
	"fmt"
	"strings"
	"time"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// scheduleBranch evaluates a schedule step against the current time in
// its configured timezone. Branches match in definition order; the
// fallback catches everything else. An empty selector means the step
// has nothing to execute and the flow continues past it.
func (in *Interpreter) scheduleBranch(ectx *Context, step *types.Step) (selector string, steps []types.Step) {
	cfg := step.Schedule
	if cfg == nil {
		return "", nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		in.logger.Warn().
			Str("call_id", ectx.CallID).
			Str("step_id", step.ID).
			Str("timezone", cfg.Timezone).
			Msg("unknown timezone, evaluating schedule in UTC")
		loc = time.UTC
	}
	now := in.clock().In(loc)

	for i, br := range cfg.Branches {
		if branchMatches(&br, now) {
			return fmt.Sprintf("b%d", i), br.Steps
		}
	}
	if len(cfg.FallbackSteps) > 0 {
		return "f", cfg.FallbackSteps
	}
	return "", nil
}

func branchMatches(br *types.ScheduleBranch, now time.Time) bool {
	for _, slot := range br.Slots {
		if slotMatches(&slot, now) {
			return true
		}
	}
	return false
}

func slotMatches(slot *types.TimeSlot, now time.Time) bool {
	if !dayMatches(slot, now.Weekday()) {
		return false
	}
	if slot.AllDay {
		return true
	}

	start, okStart := parseClock(slot.StartTime)
	end, okEnd := parseClock(slot.EndTime)
	if !okStart || !okEnd {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return start <= minute && minute < end
}

func dayMatches(slot *types.TimeSlot, day time.Weekday) bool {
	switch slot.Preset {
	case types.DaysEveryday:
		return true
	case types.DaysWeekdays:
		return day >= time.Monday && day <= time.Friday
	case types.DaysWeekends:
		return day == time.Saturday || day == time.Sunday
	}
	if len(slot.Days) == 0 {
		// No day constraint at all behaves like everyday
		return true
	}
	name := strings.ToLower(day.String())
	for _, d := range slot.Days {
		if strings.ToLower(d) == name {
			return true
		}
	}
	return false
}

// parseClock parses a "15:04" local time into minutes since midnight
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
