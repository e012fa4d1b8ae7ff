// Package scb defines the Shared Control Block: the 128-byte, 64-byte
// aligned structure the kernel scheduler and a userspace worker thread
// share per worker. Region A (offsets 0-63) is kernel-written,
// runtime-read; Region B (offsets 64-127) is runtime-written,
// kernel-read. Field offsets are part of the binary ABI and must not
// change without a corresponding change on the kernel side.
package scb

import "unsafe"

// Size is the fixed SCB size in bytes. The extended Region A layout
// (with WorkerState, HintLossCount, LastEscalationNs,
// RingbufOverflowCount) is authoritative — see DESIGN.md Open Questions.
const Size = 128

// Alignment is the required alignment for any SCB allocation.
const Alignment = 64

// RegionBOffset is the byte offset where Region B begins.
const RegionBOffset = 64

// Region A — kernel -> runtime (runtime reads). The two 32-bit fields
// hint_loss_count and ringbuf_overflow_count are placed back-to-back
// ahead of the 64-bit last_escalation_ns so that field lands on a
// natural 8-byte boundary (offset 32) with no implicit padding.
const (
	OffsetPreemptSeq          = 0  // uint64
	OffsetBudgetRemainingNs   = 8  // uint64
	OffsetKernelPressureLevel = 16 // uint32, 0-100
	OffsetWorkerState         = 20 // uint32 enum
	OffsetHintLossCount       = 24 // uint32
	OffsetRingbufOverflowCnt  = 28 // uint32
	OffsetLastEscalationNs    = 32 // uint64
	// 40-63 reserved padding, fills out Region A to 64 bytes.
)

// Region B — runtime -> kernel (runtime writes). Begins at offset 64.
const (
	OffsetIsInCriticalSection = 64 // uint32, depth >= 0
	OffsetEscapable           = 68 // uint32, 0/1
	OffsetLastAckSeq          = 72 // uint64
	OffsetRuntimePriority     = 80 // uint32, 0-1000
	OffsetLastYieldReason     = 84 // uint32 enum
	OffsetReservationToken    = 88 // uint64, opaque
	OffsetEscalationPolicy    = 96 // uint32 enum
	// 100-127 reserved padding, fills out Region B to 64 bytes.
)

// MaxWorkers bounds the worker-id index space; workers are assigned
// ids in [0, MaxWorkers).
const MaxWorkers = 1024

// Compile-time tunables from spec.md §6.
const (
	DefaultSliceNs = 5_000_000   // 5ms advisory time slice
	GracePeriodNs  = 100_000_000 // 100ms before escalation of an unresponsive escapable worker
	RingbufSize    = 262_144
	MaxPriority    = 1000
	DefaultYieldsN = 100 // default defensive-mode yield count
	DefaultPollMs  = 1   // default ring poll timeout, milliseconds
)

// rawLayout mirrors the ABI field-by-field so the offsets above can be
// checked at compile time against an actual struct layout, the same
// spirit as sab.ValidateMemoryLayout's runtime overlap check in the
// teacher but enforced by the compiler instead.
type rawLayout struct {
	preemptSeq          uint64
	budgetRemainingNs   uint64
	kernelPressureLevel uint32
	workerState         uint32
	hintLossCount       uint32
	ringbufOverflowCnt  uint32
	lastEscalationNs    uint64
	_                   [24]byte // reserved, fills Region A to 64 bytes

	isInCriticalSection uint32
	escapable           uint32
	lastAckSeq          uint64
	runtimePriority     uint32
	lastYieldReason     uint32
	reservationToken    uint64
	escalationPolicy    uint32
	_                   [28]byte // reserved, fills Region B to 64 bytes
}

// Compile-time assertion: sizeof(rawLayout) must equal Size exactly, in
// both directions, so neither a too-small nor a too-large layout slips
// through. Per-field offset agreement with the Offset* constants above
// is checked in layout_test.go (unsafe.Offsetof against every constant);
// the compiler bound below is the one invariant cheap enough, and
// important enough, to fail the build itself rather than a test run.
type (
	_sizeFloor [Size - unsafe.Sizeof(rawLayout{})]byte
	_sizeCeil  [unsafe.Sizeof(rawLayout{}) - Size]byte
)
