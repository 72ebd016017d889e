package htn

import "errors"

// ErrUnsupported reports a domain feature the selected mode does not
// implement, such as a subtask-relative method precondition during exact
// verification. It is distinct from an ordinary search failure.
var ErrUnsupported = errors.New("htn: unsupported configuration")

// ErrNoPlan indicates that the search space was exhausted without finding a
// valid decomposition.
var ErrNoPlan = errors.New("htn: no valid decomposition")

// ErrSearchLimitReached indicates a run stopped at a configured bound
// (length, flaws). Any returned incumbent is valid but not proven optimal.
var ErrSearchLimitReached = errors.New("htn: search limit reached")
