package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitkpandey1/morpheus/internal/observability"
	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

func forcePreemptSeq(h *scbhandle.Handle, seq uint64) {
	h.SimulateKernelPreempt(seq)
}

type recordingEscalator struct {
	kicks     []uint32
	throttles []uint32
}

func (r *recordingEscalator) Kick(workerID uint32) error {
	r.kicks = append(r.kicks, workerID)
	return nil
}

func (r *recordingEscalator) Throttle(workerID uint32, priority uint32) error {
	r.throttles = append(r.throttles, workerID)
	return nil
}

func newAdoptedWorker(t *testing.T, p *Pool, provider scbhandle.MemoryProvider, id uint32) *Worker {
	t.Helper()
	h, err := scbhandle.New(provider, id)
	require.NoError(t, err)
	w, err := p.Adopt(h)
	require.NoError(t, err)
	return w
}

func TestLifecycleHappyPath(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	p := New(nil, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	assert.Equal(t, scb.WorkerStateInit, w.State())

	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))
	assert.Equal(t, scb.WorkerStateRunning, w.State())
	assert.Equal(t, scb.WorkerStateRunning, w.Handle.WorkerState(), "SCB must mirror the pool's view")

	require.NoError(t, p.Quiesce(0))
	require.NoError(t, p.Retire(0))
	assert.Equal(t, scb.WorkerStateDead, w.State())

	require.NoError(t, p.Release(0))
	_, ok := p.Worker(0)
	assert.False(t, ok)
}

func TestIllegalTransitionRejected(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	p := New(nil, nil, nil)
	newAdoptedWorker(t, p, provider, 0)

	assert.Error(t, p.Start(0), "cannot go straight from Init to Running")
	require.NoError(t, p.Register(0))
	assert.Error(t, p.Quiesce(0), "cannot go straight from Registered to Quiescing")
}

func TestReleaseRequiresDead(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	p := New(nil, nil, nil)
	newAdoptedWorker(t, p, provider, 0)
	assert.Error(t, p.Release(0), "a worker must reach Dead before Release")
}

func TestDoubleAdoptFails(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	p := New(nil, nil, nil)
	newAdoptedWorker(t, p, provider, 0)

	h2, err := scbhandle.New(provider, 0)
	require.NoError(t, err)
	_, err = p.Adopt(h2)
	assert.Error(t, err)
}

func TestNonEscapableWorkerNeverEscalates(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	p := New(esc, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(false)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyKick)
	forcePreemptSeq(w.Handle, 1)

	p.Sweep(10 * scb.GracePeriodNs)
	p.Sweep(100 * scb.GracePeriodNs)

	assert.Empty(t, esc.kicks, "a non-escapable worker must never be kicked")
	assert.Empty(t, esc.throttles, "a non-escapable worker must never be throttled")
}

func TestEscapableWorkerEscalatesAfterGracePeriod(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	counters := observability.NewCounters()
	p := New(esc, counters, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(true)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyKick)
	forcePreemptSeq(w.Handle, 1)

	p.Sweep(1) // first sweep only records when it became unresponsive
	assert.Empty(t, esc.kicks)

	p.Sweep(scb.GracePeriodNs + 1)
	assert.Equal(t, []uint32{0}, esc.kicks)

	snap := counters.Snapshot(time.Unix(0, 0))
	assert.EqualValues(t, 1, snap.EscalationsByPolicy[scb.EscalationPolicyKick])
}

func TestQuiescingWorkerInertToHints(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	p := New(esc, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(true)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyKick)
	forcePreemptSeq(w.Handle, 1)

	require.NoError(t, p.Quiesce(0))

	p.Sweep(10 * scb.GracePeriodNs)

	assert.Empty(t, esc.kicks, "a Quiescing worker must not be escalated even with a pending hint")
}

func TestCriticalSectionSuppressesEscalation(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	p := New(esc, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(true)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyKick)
	forcePreemptSeq(w.Handle, 1)
	w.Handle.EnterCritical()

	p.Sweep(10 * scb.GracePeriodNs)

	assert.Empty(t, esc.kicks, "a worker in a critical section must not be escalated")
}

func TestHybridPolicyKicksAndThrottles(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	p := New(esc, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(true)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyHybrid)
	forcePreemptSeq(w.Handle, 1)

	p.Sweep(1) // first observation of unresponsiveness, must not escalate yet
	assert.Empty(t, esc.kicks)

	p.Sweep(scb.GracePeriodNs + 1)

	assert.Equal(t, []uint32{0}, esc.kicks)
	assert.Equal(t, []uint32{0}, esc.throttles)
}

func TestEscalationWaitsFullGracePeriodEvenWithoutPriorEscalation(t *testing.T) {
	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	esc := &recordingEscalator{}
	p := New(esc, nil, nil)
	w := newAdoptedWorker(t, p, provider, 0)
	require.NoError(t, p.Register(0))
	require.NoError(t, p.Start(0))

	w.Handle.SetEscapable(true)
	w.Handle.SetEscalationPolicy(scb.EscalationPolicyKick)
	forcePreemptSeq(w.Handle, 1)

	// last_escalation_ns is zero here (never escalated before), which
	// must NOT be mistaken for "escalated infinitely long ago" and
	// trigger an immediate escalation.
	p.Sweep(1)
	assert.Empty(t, esc.kicks, "a worker must not escalate on the very first sweep that observes it unresponsive")

	p.Sweep(2)
	assert.Empty(t, esc.kicks, "a worker must not escalate before a full grace period has elapsed")

	p.Sweep(scb.GracePeriodNs + 2)
	assert.Equal(t, []uint32{0}, esc.kicks, "a worker must escalate once a full grace period has elapsed since it was first observed unresponsive")
}

func TestDefaultPoolSizeIsPositive(t *testing.T) {
	assert.Greater(t, DefaultPoolSize(nil), 0)
}
