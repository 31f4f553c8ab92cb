package agent

import (
	"errors"
	"fmt"
)

// Run failure kinds. Match them with errors.Is.
var (
	ErrLoopLimitExceeded = errors.New("loop limit exceeded")
	ErrContentPolicy     = errors.New("content policy rejection")
	ErrTransient         = errors.New("transient failure")
	ErrUnknownTool       = errors.New("unknown tool requested")
)

// RunError is the error every failed orchestration run returns.
type RunError struct {
	Kind       error
	Iterations int
	Err        error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v after %d iteration(s)", e.Kind, e.Iterations)
	}
	return fmt.Sprintf("%v after %d iteration(s): %v", e.Kind, e.Iterations, e.Err)
}

// Is reports whether target is this error's kind.
func (e *RunError) Is(target error) bool { return target == e.Kind }

func (e *RunError) Unwrap() error { return e.Err }

// ErrorKind returns a short stable name for err's kind, or "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLoopLimitExceeded):
		return "loop_limit"
	case errors.Is(err, ErrContentPolicy):
		return "content_policy"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	default:
		return "transient"
	}
}
