package cmd

import (
	"errors"

	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

// Process exit statuses.
const (
	ExitOK          = 0
	ExitUsage       = 1 // bad flags or configuration
	ExitSetup       = 2 // device, sink or listener could not be opened
	ExitReadFailure = 3 // audio read failed and could not be recovered
)

// ExitError carries the exit status for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func setupError(err error) error {
	return &ExitError{Code: ExitSetup, Err: err}
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, monitor.ErrReadFailed) {
		return ExitReadFailure
	}
	return ExitUsage
}
