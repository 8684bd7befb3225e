package flow

import (
	"errors"
	"testing"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "0"},
		{in: "0", want: "0"},
		{in: "2.o1.0", want: "2.o1.0"},
		{in: "1.i.0", want: "1.i.0"},
		{in: "3.b0.1", want: "3.b0.1"},
		{in: "3.f.0", want: "3.f.0"},
		{in: "2.o1", wantErr: true},     // even length
		{in: "o1.0.2", wantErr: true},   // selector where an index belongs
		{in: "1.o0.x", wantErr: true},   // non-numeric index
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePath(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrBadPath) {
					t.Fatalf("expected ErrBadPath, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, p.String())
			}
		})
	}
}

func TestPathNavigation(t *testing.T) {
	p := RootPath(2)

	if got := p.Advance().String(); got != "3" {
		t.Errorf("Advance: expected 3, got %s", got)
	}
	if got := p.Child("o1", 0).String(); got != "2.o1.0" {
		t.Errorf("Child: expected 2.o1.0, got %s", got)
	}

	child := p.Child("o1", 0)
	parent, ok := child.Parent()
	if !ok || parent.String() != "2" {
		t.Errorf("Parent: expected 2, got %s ok=%v", parent.String(), ok)
	}
	if _, ok := p.Parent(); ok {
		t.Error("top-level path should have no parent")
	}

	// Child must not alias the parent's backing array
	a := p.Child("o0", 0)
	b := p.Child("o1", 5)
	if a.String() != "2.o0.0" || b.String() != "2.o1.5" {
		t.Errorf("sibling children alias each other: %s / %s", a, b)
	}
}

func pathTestTree() []types.Step {
	return []types.Step{
		{ID: "g", Type: types.StepGreeting},
		{
			ID:   "m",
			Type: types.StepMenu,
			Menu: &types.MenuConfig{
				Options: []types.MenuOption{
					{Digit: "1", Steps: []types.Step{{ID: "o1a", Type: types.StepGreeting}, {ID: "o1b", Type: types.StepHangup}}},
				},
				InvalidInputSteps: []types.Step{{ID: "inv", Type: types.StepHangup}},
			},
		},
		{
			ID:   "s",
			Type: types.StepSchedule,
			Schedule: &types.ScheduleConfig{
				Timezone: "UTC",
				Branches: []types.ScheduleBranch{
					{Name: "open", Steps: []types.Step{{ID: "open1", Type: types.StepDial, Dial: &types.DialConfig{Destination: "+1555"}}}},
				},
				FallbackSteps: []types.Step{{ID: "fb", Type: types.StepVoicemail}},
			},
		},
	}
}

func TestLocate(t *testing.T) {
	root := pathTestTree()

	tests := []struct {
		path   string
		wantID string
	}{
		{path: "0", wantID: "g"},
		{path: "1.o0.0", wantID: "o1a"},
		{path: "1.o0.1", wantID: "o1b"},
		{path: "1.i.0", wantID: "inv"},
		{path: "2.b0.0", wantID: "open1"},
		{path: "2.f.0", wantID: "fb"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := ParsePath(tt.path)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			step, ok := LocateStep(root, p)
			if !ok {
				t.Fatalf("expected to locate %s", tt.path)
			}
			if step.ID != tt.wantID {
				t.Errorf("expected step %s, got %s", tt.wantID, step.ID)
			}
		})
	}
}

func TestLocateOnePastEnd(t *testing.T) {
	root := pathTestTree()

	// Addressing one past the end of a list is valid for Locate (the
	// path "ran off the end") but yields no step
	p, _ := ParsePath("3")
	list, idx, ok := Locate(root, p)
	if !ok {
		t.Fatal("expected one-past-end path to resolve")
	}
	if idx != len(list) {
		t.Errorf("expected idx == len(list), got %d/%d", idx, len(list))
	}
	if _, ok := LocateStep(root, p); ok {
		t.Error("LocateStep should not resolve one past the end")
	}
}

func TestLocateBadSelectors(t *testing.T) {
	root := pathTestTree()

	for _, raw := range []string{"9", "0.o0.0", "1.o5.0", "1.b0.0", "2.o0.0", "1.o0.7"} {
		p, err := ParsePath(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if _, _, ok := Locate(root, p); ok {
			t.Errorf("expected %s not to resolve", raw)
		}
	}
}
