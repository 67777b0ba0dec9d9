// ABOUTME: Fatal contract assertions for collector and runtime invariants
// ABOUTME: A failed check panics with a *Violation when checks are enabled

// Package check implements debug assertions. A violation indicates a
// collector or runtime defect, never bad input, so it is not returned as an
// error but raised as a panic.
package check

import (
	"fmt"
	"sync/atomic"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// Enabled reports whether assertions are evaluated.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled turns assertion evaluation on or off.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Violation is the panic value of a failed assertion.
type Violation struct {
	Msg string
}

func (v *Violation) Error() string {
	return "check failed: " + v.Msg
}

// That panics with a *Violation if cond is false and checks are enabled.
func That(cond bool, format string, args ...any) {
	if cond || !enabled.Load() {
		return
	}
	panic(&Violation{Msg: fmt.Sprintf(format, args...)})
}

// Implies checks that a implies b.
func Implies(a, b bool, format string, args ...any) {
	That(!a || b, format, args...)
}
