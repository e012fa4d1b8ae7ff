// Package checkpoint implements the two checkpoint primitives of
// spec.md §4.5: a side-effect-free sync check a language runtime can
// call from anywhere, and a cooperative checkpoint that performs the
// actual yield and then acknowledges it — in that order, since the
// kernel must never observe an acknowledgement for a yield that has
// not actually happened.
package checkpoint

import (
	"time"

	"github.com/ankitkpandey1/morpheus/internal/hints"
	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// handleView is the slice of *scbhandle.Handle this package needs,
// narrowed the way internal/critical narrows to scbFlag — keeps the
// test doubles in checkpoint_test.go honest about what a checkpoint
// can observe.
type handleView interface {
	WorkerID() uint32
	IsInCriticalSection() uint32
	YieldRequested() bool
	SetLastYieldReason(scb.YieldReason)
	Acknowledge() (acknowledgedSeq uint64, didAdvance bool)
}

var _ handleView = (*scbhandle.Handle)(nil)

// AckLatencyRecorder receives the wall-clock time a cooperative
// checkpoint spent running the adapter's yield function and
// acknowledging it (spec.md §6 "acknowledgement latency samples per
// worker"). *observability.Counters satisfies this without
// checkpoint importing observability, the same duck-typed pattern
// internal/hints uses for its Recorder.
type AckLatencyRecorder interface {
	RecordAckLatency(workerID uint32, d time.Duration)
}

// NoopAckLatencyRecorder discards every sample, for callers that do
// not want ack-latency tracking.
type NoopAckLatencyRecorder struct{}

func (NoopAckLatencyRecorder) RecordAckLatency(uint32, time.Duration) {}

// CheckSync reports whether the calling worker should yield right
// now, with no side effects (spec.md §4.5 "sync: no side effects").
// A worker in a critical section never yields, regardless of any
// pending hint or defensive mode — the critical-section guard
// (internal/critical) takes priority over everything else.
func CheckSync(h handleView, defensive *hints.Defensive) bool {
	if h.IsInCriticalSection() != 0 {
		return false
	}
	if defensive.Active() {
		return true
	}
	return h.YieldRequested()
}

// Cooperative runs the async/cooperative checkpoint: if CheckSync
// would report true, it invokes yieldFn (the language adapter's actual
// yield action) and only then acknowledges, recording why it yielded.
// In a critical section it is a no-op, same as CheckSync. yieldFn is
// called synchronously and Cooperative does not return until it does,
// so the acknowledgement can never precede the yield it describes.
//
// recorder is given the time spent running yieldFn and acknowledging
// it, reported as this worker's acknowledgement latency; a nil
// recorder is treated as NoopAckLatencyRecorder.
func Cooperative(h handleView, defensive *hints.Defensive, yieldFn func(), recorder AckLatencyRecorder) (yielded bool) {
	if h.IsInCriticalSection() != 0 {
		return false
	}

	reason := scb.YieldReasonNone
	switch {
	case defensive.Consume():
		reason = scb.YieldReasonDefensive
	case h.YieldRequested():
		reason = scb.YieldReasonKernelHint
	default:
		return false
	}

	if recorder == nil {
		recorder = NoopAckLatencyRecorder{}
	}
	start := time.Now()

	if yieldFn != nil {
		yieldFn()
	}
	h.SetLastYieldReason(reason)
	h.Acknowledge()

	recorder.RecordAckLatency(h.WorkerID(), time.Since(start))
	return true
}
