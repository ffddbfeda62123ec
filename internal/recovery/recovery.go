// internal/recovery/recovery.go
package recovery

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
)

// Silencer forces the stimulation output to zero.
type Silencer interface {
	Silence()
}

// SilenceFunc adapts a function to Silencer.
type SilenceFunc func()

func (f SilenceFunc) Silence() { f() }

var silencer atomic.Pointer[Silencer]

// Register sets the output stage silenced on a fatal panic; nil clears it.
func Register(s Silencer) {
	if s == nil {
		silencer.Store(nil)
		return
	}
	silencer.Store(&s)
}

// silence drives the output to zero. A second panic here must not stop the
// exit path.
func silence() {
	p := silencer.Load()
	if p == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "FATAL: silencing output: %v\n", r)
		}
	}()
	(*p).Silence()
}

// HandlePanic should be deferred at the top of main() or goroutines.
// It silences the output, logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		silence()
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		os.Exit(1)
	}
}

// HandlePanicFunc is HandlePanic with an extra cleanup step run after the
// output is silenced.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		silence()
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}
