package hints

import "sync/atomic"

// Defensive is the process-wide Inactive/Active(yields_remaining)
// state machine of spec.md §4.4: while Active, the checkpoint
// primitive must always report yield, regardless of preempt_seq vs.
// last_ack_seq, converting silent hint loss into overt safety. State
// is written by the hint consumer and read by every worker, so it
// uses Release stores and Acquire loads (spec.md §5).
type Defensive struct {
	// remaining packs the state as a single word: 0 means Inactive,
	// any positive value is Active with that many yields remaining.
	remaining atomic.Uint32
	// locked marks a persistent ring failure (spec.md §4.4, §7.4):
	// defensive mode for the life of this Defensive, regardless of
	// remaining.
	locked atomic.Bool
}

// NewDefensive creates an Inactive defensive-mode flag.
func NewDefensive() *Defensive {
	return &Defensive{}
}

// Enter transitions to Active with n yields remaining, or resets the
// count to n if already Active. spec.md §8 requires enter(); exit();
// enter() to restore the configured count, so this never accumulates
// across re-entries.
func (d *Defensive) Enter(n uint32) {
	if n == 0 {
		n = 1
	}
	d.remaining.Store(n)
}

// Exit transitions to Inactive immediately, independent of how many
// yields were remaining.
func (d *Defensive) Exit() {
	d.remaining.Store(0)
}

// Active reports whether defensive mode currently forces a yield.
func (d *Defensive) Active() bool {
	return d.locked.Load() || d.remaining.Load() > 0
}

// Lockdown forces defensive mode permanently, independent of any
// yields-remaining count, and it is not cleared by Exit. Only a
// restart of the consumer (a fresh Defensive) lifts it. This is the
// response to a persistent ring failure (spec.md §4.4 "force
// defensive mode indefinitely").
func (d *Defensive) Lockdown() {
	d.locked.Store(true)
}

// Consume accounts for one checkpoint having observed Active, and
// reports whether to force a yield. It decrements the remaining count
// and auto-exits to Inactive once it reaches zero, so after exactly n
// calls following Enter(n), Consume returns false. It is safe to call
// from multiple worker threads concurrently: the decrement is a CAS
// loop so no yield is double-counted and the count never goes
// negative. A Lockdown always reports true and never decrements.
func (d *Defensive) Consume() bool {
	if d.locked.Load() {
		return true
	}
	for {
		cur := d.remaining.Load()
		if cur == 0 {
			return false
		}
		if d.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining reports the current yields-remaining count, for tests and
// observability.
func (d *Defensive) Remaining() uint32 {
	return d.remaining.Load()
}
