// Package critical implements the scoped critical-section discipline
// of spec.md §4.2: while active, the kernel must not escalate against
// the owning worker, and the checkpoint primitive (internal/checkpoint)
// must report no-yield regardless of any pending hint.
package critical

import (
	"fmt"

	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// scbFlag is the minimal surface a Guard needs from a worker's SCB
// handle — just the two Region B writes, never the full accessor set.
type scbFlag interface {
	EnterCritical()
	ExitCritical()
}

var _ scbFlag = (*scbhandle.Handle)(nil)

// Guard tracks critical-section nesting for one worker thread. It is
// not safe to share across threads and must not be retained across a
// suspension point that might resume on a different thread — both are
// enforced dynamically here since Go has no static ownership checks
// for this (spec.md §4.2, §9 "Scoped resources").
type Guard struct {
	scb       scbFlag
	ownerTID  int
	depth     int
	currentID func() int
}

// NewGuard creates a Guard bound to the given SCB flag surface and
// thread-identity function (normally registry.CurrentTID, injected
// here so this package does not import internal/registry and create a
// cycle). ownerTID is captured at construction time; Enter/Exit later
// assert the calling thread still matches it.
func NewGuard(scb scbFlag, currentThreadID func() int) *Guard {
	return &Guard{scb: scb, currentID: currentThreadID, ownerTID: currentThreadID()}
}

// Enter increments the nesting depth, setting the SCB's in-critical
// flag only on the 0->1 transition. Entering is infallible: there is
// no error path, matching spec.md §4.2 "Failure: no error paths".
func (g *Guard) Enter() {
	g.assertOwnerThread("Enter")
	g.depth++
	if g.depth == 1 {
		g.scb.EnterCritical()
	}
}

// Exit decrements the nesting depth, clearing the SCB's in-critical
// flag only on the 1->0 transition. Exiting without a matching Enter
// is a programmer error: it panics, per spec.md §4.2 "implementations
// detect and panic in debug builds" — this implementation always
// checks, since the check is cheap relative to the atomic store it
// guards.
func (g *Guard) Exit() {
	g.assertOwnerThread("Exit")
	if g.depth == 0 {
		panic("critical: Exit called without a matching Enter")
	}
	g.depth--
	if g.depth == 0 {
		g.scb.ExitCritical()
	}
}

// Depth returns the current nesting depth, for tests and diagnostics.
func (g *Guard) Depth() int { return g.depth }

func (g *Guard) assertOwnerThread(op string) {
	if g.currentID == nil {
		return
	}
	if tid := g.currentID(); tid != g.ownerTID {
		panic(fmt.Sprintf("critical: %s called from thread %d, guard owned by thread %d", op, tid, g.ownerTID))
	}
}

// Scoped runs fn with the critical section held, guaranteeing release
// on every exit path including a panic unwinding through fn — the
// try/finally emulation spec.md §9 calls for in languages without
// destructor guarantees. Prefer this over manual Enter/Exit pairs.
func Scoped(g *Guard, fn func()) {
	g.Enter()
	defer g.Exit()
	fn()
}
