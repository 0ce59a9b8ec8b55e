// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// ErrPanic wraps a panic recovered by Guard.
var ErrPanic = errors.New("panic")

// HandlePanic should be deferred at the top of main().
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		os.Exit(1)
	}
}

// Guard wraps a goroutine body so that a panic is logged and returned as an
// error wrapping ErrPanic instead of crashing the process. Use it with
// errgroup so the other goroutines are cancelled and cleanup still runs:
//
//	g.Go(recovery.Guard("detector", func() error {
//		return loop.Run(ctx)
//	}))
func Guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("goroutine panicked",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("%w in %s: %v", ErrPanic, name, r)
			}
		}()
		return fn()
	}
}
