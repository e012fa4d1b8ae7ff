package scbhandle

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

// Handle is the userspace side of one worker's SCB. It is created at
// worker registration, exclusively owned by that worker's thread for
// its lifetime, and must not be shared across threads or retained past
// teardown (spec.md §3, §4.1).
type Handle struct {
	workerID uint32
	slot     []byte
}

// New maps worker workerID's slot out of provider and returns a Handle
// for it. Callers must hold whatever registration guarantees that no
// other Handle for the same workerID is live concurrently.
func New(provider MemoryProvider, workerID uint32) (*Handle, error) {
	slot, err := provider.SlotAt(workerID)
	if err != nil {
		return nil, fmt.Errorf("scbhandle: map worker %d: %w", workerID, err)
	}
	if len(slot) != scb.Size {
		return nil, fmt.Errorf("scbhandle: worker %d slot is %d bytes, want %d", workerID, len(slot), scb.Size)
	}
	return &Handle{workerID: workerID, slot: slot}, nil
}

// WorkerID returns the worker-id this handle is bound to.
func (h *Handle) WorkerID() uint32 { return h.workerID }

func (h *Handle) ptr32(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&h.slot[off]))
}

func (h *Handle) ptr64(off uint32) *uint64 {
	return (*uint64)(unsafe.Pointer(&h.slot[off]))
}

// --- Region A: kernel -> runtime, runtime reads ---

// PreemptSeq loads the kernel's monotonic hint counter with Acquire
// ordering, so a subsequent decision to yield observes every kernel
// write that preceded the increment (spec.md §4.1).
func (h *Handle) PreemptSeq() uint64 {
	return atomic.LoadUint64(h.ptr64(scb.OffsetPreemptSeq))
}

// BudgetRemainingNs is an advisory, Relaxed load.
func (h *Handle) BudgetRemainingNs() uint64 {
	return atomic.LoadUint64(h.ptr64(scb.OffsetBudgetRemainingNs))
}

// PressureLevel is an advisory, Relaxed load, 0-100.
func (h *Handle) PressureLevel() uint32 {
	return atomic.LoadUint32(h.ptr32(scb.OffsetKernelPressureLevel))
}

// SimulateKernelPreempt stores a new preempt_seq with Release
// ordering, standing in for the kernel-side write Region A otherwise
// only ever receives from outside this process. For use where no real
// kernel is attached: tests and in-process simulation.
func (h *Handle) SimulateKernelPreempt(seq uint64) {
	atomic.StoreUint64(h.ptr64(scb.OffsetPreemptSeq), seq)
}

// WorkerState loads the worker's lifecycle state.
func (h *Handle) WorkerState() scb.WorkerState {
	return scb.WorkerState(atomic.LoadUint32(h.ptr32(scb.OffsetWorkerState)))
}

// SetWorkerState stores the worker's lifecycle state with Release
// ordering; spec.md §4.6 owns the transition legality, this is just
// the mechanical store.
func (h *Handle) SetWorkerState(s scb.WorkerState) {
	atomic.StoreUint32(h.ptr32(scb.OffsetWorkerState), uint32(s))
}

// HintLossCount is the kernel-observed count of dropped hints.
func (h *Handle) HintLossCount() uint32 {
	return atomic.LoadUint32(h.ptr32(scb.OffsetHintLossCount))
}

// LastEscalationNs is the monotonic timestamp of the last escalation.
func (h *Handle) LastEscalationNs() uint64 {
	return atomic.LoadUint64(h.ptr64(scb.OffsetLastEscalationNs))
}

// SetLastEscalationNs records an escalation timestamp (kernel-side
// write in production; exposed here so tests and in-process
// simulation can drive escalation scenarios without a real kernel).
func (h *Handle) SetLastEscalationNs(ns uint64) {
	atomic.StoreUint64(h.ptr64(scb.OffsetLastEscalationNs), ns)
}

// RingbufOverflowCount is the kernel-observed hint-ring overflow count.
func (h *Handle) RingbufOverflowCount() uint32 {
	return atomic.LoadUint32(h.ptr32(scb.OffsetRingbufOverflowCnt))
}

// --- Region B: runtime -> kernel, runtime writes ---

// IsInCriticalSection reports the current in-critical depth/flag.
func (h *Handle) IsInCriticalSection() uint32 {
	return atomic.LoadUint32(h.ptr32(scb.OffsetIsInCriticalSection))
}

// EnterCritical stores 1 with Release ordering. Only the critical
// guard (internal/critical) should call this directly; it handles
// nesting so the field only ever transitions 0->1 on the outermost
// entry.
func (h *Handle) EnterCritical() {
	atomic.StoreUint32(h.ptr32(scb.OffsetIsInCriticalSection), 1)
}

// ExitCritical stores 0 with Release ordering.
func (h *Handle) ExitCritical() {
	atomic.StoreUint32(h.ptr32(scb.OffsetIsInCriticalSection), 0)
}

// Escapable reports whether this worker has opted into escalation.
func (h *Handle) Escapable() bool {
	return atomic.LoadUint32(h.ptr32(scb.OffsetEscapable)) != 0
}

// SetEscapable stores the worker's escapability with Release ordering.
// This is a worker-construction choice (spec.md §4.1), not a runtime
// toggle, but nothing prevents a worker from changing its own mind.
func (h *Handle) SetEscapable(escapable bool) {
	var v uint32
	if escapable {
		v = 1
	}
	atomic.StoreUint32(h.ptr32(scb.OffsetEscapable), v)
}

// LastAckSeq loads the highest preempt_seq this worker has
// acknowledged, Relaxed (only Acknowledge's CAS needs Release).
func (h *Handle) LastAckSeq() uint64 {
	return atomic.LoadUint64(h.ptr64(scb.OffsetLastAckSeq))
}

// YieldRequested reports preempt_seq(Acquire) > last_ack_seq(Relaxed),
// the core predicate behind the sync checkpoint (spec.md §4.1, §4.5).
func (h *Handle) YieldRequested() bool {
	return h.PreemptSeq() > h.LastAckSeq()
}

// Acknowledge snapshots preempt_seq (Acquire) and compare-and-sets
// last_ack_seq from its previously observed value up to that snapshot
// with Release ordering. It is idempotent: if last_ack_seq is already
// at or beyond the snapshot, it returns false having made no further
// observation pending. Concurrent calls on the same handle cannot
// happen — the handle is exclusively owned by one thread — so the CAS
// never contends; it exists to make the intent (a monotonic
// ratchet, never a regression) explicit rather than to arbitrate races.
func (h *Handle) Acknowledge() (acknowledgedSeq uint64, didAdvance bool) {
	seq := atomic.LoadUint64(h.ptr64(scb.OffsetPreemptSeq))
	for {
		prior := atomic.LoadUint64(h.ptr64(scb.OffsetLastAckSeq))
		if prior >= seq {
			return prior, false
		}
		if atomic.CompareAndSwapUint64(h.ptr64(scb.OffsetLastAckSeq), prior, seq) {
			return seq, true
		}
	}
}

// Priority loads the advisory runtime priority, 0-1000.
func (h *Handle) Priority() uint32 {
	return atomic.LoadUint32(h.ptr32(scb.OffsetRuntimePriority))
}

// SetPriority stores min(p, scb.MaxPriority) with Release ordering.
func (h *Handle) SetPriority(p uint32) {
	if p > scb.MaxPriority {
		p = scb.MaxPriority
	}
	atomic.StoreUint32(h.ptr32(scb.OffsetRuntimePriority), p)
}

// LastYieldReason loads the observability ledger of why this worker
// last yielded.
func (h *Handle) LastYieldReason() scb.YieldReason {
	return scb.YieldReason(atomic.LoadUint32(h.ptr32(scb.OffsetLastYieldReason)))
}

// SetLastYieldReason stores the reason with Release ordering.
func (h *Handle) SetLastYieldReason(r scb.YieldReason) {
	atomic.StoreUint32(h.ptr32(scb.OffsetLastYieldReason), uint32(r))
}

// ReservationToken loads the opaque reservation slot. Its semantics
// are unspecified (spec.md §9); this handle never interprets it.
func (h *Handle) ReservationToken() uint64 {
	return atomic.LoadUint64(h.ptr64(scb.OffsetReservationToken))
}

// SetReservationToken stores the opaque reservation slot.
func (h *Handle) SetReservationToken(token uint64) {
	atomic.StoreUint64(h.ptr64(scb.OffsetReservationToken), token)
}

// EscalationPolicy loads the worker's advisory escalation policy.
func (h *Handle) EscalationPolicy() scb.EscalationPolicy {
	return scb.EscalationPolicy(atomic.LoadUint32(h.ptr32(scb.OffsetEscalationPolicy)))
}

// SetEscalationPolicy stores the worker's advisory escalation policy
// with Release ordering.
func (h *Handle) SetEscalationPolicy(p scb.EscalationPolicy) {
	atomic.StoreUint32(h.ptr32(scb.OffsetEscalationPolicy), uint32(p))
}
