package planner

import "fmt"

// TransportError reports a synthesizer call that never yielded a
// response to validate.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("synthesizer call: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a synthesizer response that failed structural
// validation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "invalid plan: " + e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
