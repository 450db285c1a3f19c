package cli

import "fmt"

// ExitError carries a specific process exit code out through cobra's RunE
// chain to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying failure so callers can match sentinel or
// typed errors through the exit wrapper.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an ExitError with the given code and formatted message.
// %w verbs keep their chain through the wrapper.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code: code,
		Err:  fmt.Errorf(format, args...),
	}
}
