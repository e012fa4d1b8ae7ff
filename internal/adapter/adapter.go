// Package adapter defines the single extension point a language
// runtime integration implements (spec.md §4.7). The core makes no
// assumption about which concurrency library a runtime uses; it only
// ever calls through this five-operation capability surface, the way
// the teacher's supervisor package exposes BaseSupervisor as the one
// interface every concrete supervisor satisfies.
package adapter

import (
	"time"

	"github.com/ankitkpandey1/morpheus/internal/checkpoint"
	"github.com/ankitkpandey1/morpheus/internal/critical"
	"github.com/ankitkpandey1/morpheus/internal/hints"
	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// Adapter is the language-neutral surface a runtime integration
// implements. A runtime obtains one Adapter per worker thread at
// registration and calls through it for the rest of that thread's
// life; it never touches the SCB, the hint ring, or defensive mode
// directly.
type Adapter interface {
	// EnterSafePoint is a non-mandatory yield opportunity: it invokes
	// the sync checkpoint and, if that reports true, performs the
	// cooperative yield. Call this from any point in a runtime's main
	// loop where suspending is safe.
	EnterSafePoint()
	// EnterCheckpoint is the same decision as EnterSafePoint but
	// reports whether a yield was actually performed, for callers
	// that want to react to it (metrics, logging, a retry loop).
	EnterCheckpoint() (yielded bool)
	// EnterCritical returns a scoped guard for a critical section
	// (C3): while held, the kernel must not escalate against this
	// worker and checkpoints report no-yield regardless of any
	// pending hint.
	EnterCritical() *critical.Guard
	// YieldWorker performs an unconditional cooperative yield and
	// acknowledgement, bypassing the checkpoint predicate entirely.
	// Used where the runtime itself has decided to suspend (e.g. a
	// blocking I/O call) and wants the kernel's bookkeeping updated
	// regardless of whether a hint was pending.
	YieldWorker()
	// DefaultEscapable reports this language runtime's default for
	// the SCB escapable flag, used at registration when the caller
	// does not explicitly choose one.
	DefaultEscapable() bool
}

// YieldFunc is the runtime's actual suspension action: parking the
// goroutine, yielding to an event loop, or whatever "give up the CPU"
// means for this language. It is invoked synchronously from
// EnterSafePoint/EnterCheckpoint/YieldWorker and must return once the
// worker has resumed.
type YieldFunc func()

// WorkerAdapter is the core's own Adapter implementation: it wires one
// worker's scbhandle.Handle, internal/critical.Guard, and
// internal/hints.Defensive flag together with a runtime-supplied
// YieldFunc. A language integration embeds or wraps this rather than
// reimplementing checkpoint/critical-section bookkeeping itself.
type WorkerAdapter struct {
	handle           *scbhandle.Handle
	guard            *critical.Guard
	defensive        *hints.Defensive
	yield            YieldFunc
	defaultEscapable bool
	recorder         checkpoint.AckLatencyRecorder
}

// NewWorkerAdapter builds the adapter for one worker. yield must not
// be nil. defaultEscapable is returned by DefaultEscapable and has no
// other effect — callers decide whether and when to act on it.
// recorder receives an acknowledgement-latency sample every time this
// worker yields and acknowledges, through either checkpoint or
// YieldWorker; a nil recorder discards the samples.
func NewWorkerAdapter(handle *scbhandle.Handle, guard *critical.Guard, defensive *hints.Defensive, yield YieldFunc, defaultEscapable bool, recorder checkpoint.AckLatencyRecorder) *WorkerAdapter {
	if recorder == nil {
		recorder = checkpoint.NoopAckLatencyRecorder{}
	}
	return &WorkerAdapter{
		handle:           handle,
		guard:            guard,
		defensive:        defensive,
		yield:            yield,
		defaultEscapable: defaultEscapable,
		recorder:         recorder,
	}
}

func (a *WorkerAdapter) EnterSafePoint() {
	checkpoint.Cooperative(a.handle, a.defensive, a.yield, a.recorder)
}

func (a *WorkerAdapter) EnterCheckpoint() bool {
	return checkpoint.Cooperative(a.handle, a.defensive, a.yield, a.recorder)
}

func (a *WorkerAdapter) EnterCritical() *critical.Guard {
	a.guard.Enter()
	return a.guard
}

func (a *WorkerAdapter) YieldWorker() {
	start := time.Now()
	if a.yield != nil {
		a.yield()
	}
	a.handle.SetLastYieldReason(scb.YieldReasonExplicit)
	a.handle.Acknowledge()
	a.recorder.RecordAckLatency(a.handle.WorkerID(), time.Since(start))
}

func (a *WorkerAdapter) DefaultEscapable() bool { return a.defaultEscapable }

var _ Adapter = (*WorkerAdapter)(nil)
