package approvalflow

import (
	"errors"
)

// Error taxonomy. Engine operations wrap these sentinels with context via
// fmt.Errorf("...: %w", ...); callers branch with errors.Is.
var (
	// ErrValidation marks malformed input, a missing required field or a
	// misconfigured step (for example a step with no approver rule).
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks an actor that does not satisfy the current
	// step's approver rule or lacks the cancel capability.
	ErrUnauthorized = errors.New("not authorized")

	// ErrConflict marks a concurrent mutation, a duplicate active instance
	// for the same target, or a transition attempted on a terminal instance.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown definition or instance.
	ErrNotFound = errors.New("entity not found")

	// ErrDependency marks a collaborator failure (persistence, context
	// resolver). Never retried inside the engine.
	ErrDependency = errors.New("dependency failed")
)
