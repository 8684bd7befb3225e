package flow

import (
	"errors"
	"strconv"
	"strings"

	"github.com/velora-auto/trunkline/backend/internal/types"
)

// Path addresses one step within a flow tree, including steps nested in
// menu and schedule branches. It is the resume token carried on every
// callback URL: elements alternate list index and branch selector, e.g.
// "2" (top-level step 2) or "2.o1.0" (first step of option 1 of the
// menu at index 2).
//
// Selectors: oN = menu option N, i = menu invalid-input steps,
// bN = schedule branch N, f = schedule fallback steps.
type Path []string

// ErrBadPath is returned for paths that cannot be parsed or do not
// address a list inside the given tree
var ErrBadPath = errors.New("invalid step path")

// RootPath addresses top-level step idx
func RootPath(idx int) Path {
	return Path{strconv.Itoa(idx)}
}

// ParsePath parses the dotted form. An empty string is the start of
// the flow (top-level step 0).
func ParsePath(s string) (Path, error) {
	if s == "" {
		return RootPath(0), nil
	}
	p := Path(strings.Split(s, "."))
	if len(p)%2 == 0 {
		return nil, ErrBadPath
	}
	for i := 0; i < len(p); i += 2 {
		if _, err := strconv.Atoi(p[i]); err != nil {
			return nil, ErrBadPath
		}
	}
	return p, nil
}

// String returns the dotted form carried in URLs
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Index returns the step index at the path's own level
func (p Path) Index() int {
	idx, _ := strconv.Atoi(p[len(p)-1])
	return idx
}

// Advance addresses the next sibling
func (p Path) Advance() Path {
	out := make(Path, len(p))
	copy(out, p)
	out[len(out)-1] = strconv.Itoa(p.Index() + 1)
	return out
}

// Child descends into a branch of the addressed step
func (p Path) Child(selector string, idx int) Path {
	out := make(Path, 0, len(p)+2)
	out = append(out, p...)
	return append(out, selector, strconv.Itoa(idx))
}

// Parent addresses the step owning the branch this path is inside.
// ok is false at the top level.
func (p Path) Parent() (Path, bool) {
	if len(p) < 3 {
		return nil, false
	}
	out := make(Path, len(p)-2)
	copy(out, p[:len(p)-2])
	return out, true
}

// Locate resolves the path to the step list it addresses and the index
// within it. The index may be one past the end of the list (the path
// "ran off the end"); selectors that do not resolve return ok=false.
func Locate(root []types.Step, p Path) (list []types.Step, idx int, ok bool) {
	list = root
	for i := 0; i+1 < len(p); i += 2 {
		stepIdx, err := strconv.Atoi(p[i])
		if err != nil || stepIdx < 0 || stepIdx >= len(list) {
			return nil, 0, false
		}
		list = branchBySelector(&list[stepIdx], p[i+1])
		if list == nil {
			return nil, 0, false
		}
	}
	idx, err := strconv.Atoi(p[len(p)-1])
	if err != nil || idx < 0 || idx > len(list) {
		return nil, 0, false
	}
	return list, idx, true
}

// LocateStep resolves the path to the step itself
func LocateStep(root []types.Step, p Path) (*types.Step, bool) {
	list, idx, ok := Locate(root, p)
	if !ok || idx >= len(list) {
		return nil, false
	}
	return &list[idx], true
}

func branchBySelector(step *types.Step, selector string) []types.Step {
	switch {
	case selector == "i":
		if step.Menu == nil {
			return nil
		}
		return step.Menu.InvalidInputSteps
	case selector == "f":
		if step.Schedule == nil {
			return nil
		}
		return step.Schedule.FallbackSteps
	case strings.HasPrefix(selector, "o"):
		n, err := strconv.Atoi(selector[1:])
		if err != nil || step.Menu == nil || n < 0 || n >= len(step.Menu.Options) {
			return nil
		}
		return step.Menu.Options[n].Steps
	case strings.HasPrefix(selector, "b"):
		n, err := strconv.Atoi(selector[1:])
		if err != nil || step.Schedule == nil || n < 0 || n >= len(step.Schedule.Branches) {
			return nil
		}
		return step.Schedule.Branches[n].Steps
	}
	return nil
}
