package patch

import (
	"fmt"
)

// State is a stage of the patch lifecycle. An abort at any stage returns to
// Idle with the stored document untouched.
type State int

const (
	Idle State = iota
	PathValidated
	Transformed
	Validated
	Committed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PathValidated:
		return "path_validated"
	case Transformed:
		return "transformed"
	case Validated:
		return "validated"
	case Committed:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ForbiddenError reports an operation touching a denied path.
type ForbiddenError struct {
	Op   string
	Path string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s on %s is forbidden", e.Op, e.Path)
}

// CheckPaths returns a ForbiddenError for the first denied path in ops.
func CheckPaths(ops []Operation) error {
	for _, op := range ops {
		for _, p := range op.Paths() {
			if Forbidden(p) {
				return &ForbiddenError{Op: op.Kind(), Path: p.String()}
			}
		}
	}
	return nil
}

// Apply runs ops against a deep copy of doc. doc is never mutated; on any
// failure the partially transformed copy is discarded.
func Apply(doc any, ops []Operation) (any, error) {
	if err := CheckPaths(ops); err != nil {
		return nil, err
	}
	out := deepCopy(doc)
	for i, op := range ops {
		next, err := op.apply(out)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
		out = next
	}
	return out, nil
}
