package scb

import "fmt"

// WorkerState is the lifecycle state of a worker thread. Hints and
// escalation are permitted only in WorkerStateRunning.
type WorkerState uint32

const (
	WorkerStateInit WorkerState = iota
	WorkerStateRegistered
	WorkerStateRunning
	WorkerStateQuiescing
	WorkerStateDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateInit:
		return "Init"
	case WorkerStateRegistered:
		return "Registered"
	case WorkerStateRunning:
		return "Running"
	case WorkerStateQuiescing:
		return "Quiescing"
	case WorkerStateDead:
		return "Dead"
	default:
		return fmt.Sprintf("WorkerState(%d)", uint32(s))
	}
}

// CanTransitionTo reports whether the worker state machine allows the
// transition s -> next. Init -> Registered -> Running -> Quiescing ->
// Dead, no skipping and no going back.
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	switch s {
	case WorkerStateInit:
		return next == WorkerStateRegistered
	case WorkerStateRegistered:
		return next == WorkerStateRunning
	case WorkerStateRunning:
		return next == WorkerStateQuiescing
	case WorkerStateQuiescing:
		return next == WorkerStateDead
	default:
		return false
	}
}

// CanReceiveHints reports whether a worker in this state may be
// targeted by kernel hints or escalation. Per spec.md §4.6, any state
// other than Running must be treated as inert by the userspace side.
func (s WorkerState) CanReceiveHints() bool {
	return s == WorkerStateRunning
}

// HintReason classifies why the kernel emitted a hint record.
type HintReason uint32

const (
	HintReasonBudget HintReason = iota
	HintReasonPressure
	HintReasonImbalance
	HintReasonDeadline
)

func (r HintReason) String() string {
	switch r {
	case HintReasonBudget:
		return "Budget"
	case HintReasonPressure:
		return "Pressure"
	case HintReasonImbalance:
		return "Imbalance"
	case HintReasonDeadline:
		return "Deadline"
	default:
		return fmt.Sprintf("HintReason(%d)", uint32(r))
	}
}

// Valid reports whether r is one of the closed HintReason values. ABI
// stability requires unknown values to be rejected at the decoding
// boundary rather than silently accepted (spec.md §9).
func (r HintReason) Valid() bool {
	return r <= HintReasonDeadline
}

// YieldReason is the observability ledger of why a worker last yielded.
type YieldReason uint32

const (
	YieldReasonNone YieldReason = iota
	YieldReasonKernelHint
	YieldReasonDefensive
	YieldReasonExplicit
)

func (r YieldReason) String() string {
	switch r {
	case YieldReasonNone:
		return "None"
	case YieldReasonKernelHint:
		return "KernelHint"
	case YieldReasonDefensive:
		return "Defensive"
	case YieldReasonExplicit:
		return "Explicit"
	default:
		return fmt.Sprintf("YieldReason(%d)", uint32(r))
	}
}

// EscalationPolicy is the worker's advisory preference for how the
// kernel should escalate against it once escapable and past the grace
// period without an acknowledgement.
type EscalationPolicy uint32

const (
	EscalationPolicyNone EscalationPolicy = iota
	EscalationPolicyKick
	EscalationPolicyThrottle
	EscalationPolicyHybrid
)

func (p EscalationPolicy) String() string {
	switch p {
	case EscalationPolicyNone:
		return "None"
	case EscalationPolicyKick:
		return "Kick"
	case EscalationPolicyThrottle:
		return "Throttle"
	case EscalationPolicyHybrid:
		return "Hybrid"
	default:
		return fmt.Sprintf("EscalationPolicy(%d)", uint32(p))
	}
}

func (p EscalationPolicy) Valid() bool {
	return p <= EscalationPolicyHybrid
}

// RuntimeMode is the coarse label of a worker's current hint activity.
type RuntimeMode uint32

const (
	RuntimeModeDeterministic RuntimeMode = iota
	RuntimeModePressured
	RuntimeModeDefensive
)

func (m RuntimeMode) String() string {
	switch m {
	case RuntimeModeDeterministic:
		return "Deterministic"
	case RuntimeModePressured:
		return "Pressured"
	case RuntimeModeDefensive:
		return "Defensive"
	default:
		return fmt.Sprintf("RuntimeMode(%d)", uint32(m))
	}
}
