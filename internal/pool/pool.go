// Package pool tracks every worker registered against this
// coordinator process: allocation, the Init -> Registered -> Running
// -> Quiescing -> Dead lifecycle of spec.md §4.6, and the
// escalation-policy enforcement that kicks in when a Running,
// escapable worker stops acknowledging hints within its grace period.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/net/trace"

	"github.com/ankitkpandey1/morpheus/internal/observability"
	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// Escalator performs the kernel-side action once a worker has been
// unresponsive past its grace period. The real kernel scheduler is
// out of scope (spec.md §1); this interface is all Pool depends on.
type Escalator interface {
	Kick(workerID uint32) error
	Throttle(workerID uint32, priority uint32) error
}

// NoopEscalator discards every escalation, for tests and for running
// the pool without a real kernel attached.
type NoopEscalator struct{}

func (NoopEscalator) Kick(uint32) error             { return nil }
func (NoopEscalator) Throttle(uint32, uint32) error { return nil }

// Worker is one pool-tracked worker: its SCB handle plus the
// coordinator's view of its lifecycle state. The SCB's own
// worker_state field (scbhandle.Handle.WorkerState) always mirrors
// Worker.state — Pool is the only writer of either.
type Worker struct {
	ID     uint32
	Handle *scbhandle.Handle
	state  scb.WorkerState

	// unresponsiveSinceNs is the nowNs value at which this worker was
	// first observed Running+escapable+yield-requested without having
	// escalated since. Zero means "not currently unresponsive". It is
	// what the grace-period check in checkEscalation waits out — not
	// last_escalation_ns, which is zero for a worker that has never
	// been escalated and so cannot anchor a "how long has it been"
	// comparison on its own.
	unresponsiveSinceNs atomic.Uint64
}

// State returns the worker's last-known lifecycle state.
func (w *Worker) State() scb.WorkerState { return w.state }

// Pool is the process-wide registry of adopted workers. Unlike
// internal/registry (which binds an OS thread's identity to a worker,
// called from the worker's own thread), Pool is driven by the
// coordinator side: a worker registers itself first, then hands its
// handle to Pool.Adopt so the coordinator can drive its lifecycle and
// watch it for escalation.
type Pool struct {
	mu      sync.Mutex
	workers map[uint32]*Worker

	escalator Escalator
	counters  *observability.Counters
	logger    *slog.Logger

	generation uuid.UUID
}

// New creates an empty Pool. A nil escalator, counters, or logger
// falls back to a no-op/default implementation.
func New(escalator Escalator, counters *observability.Counters, logger *slog.Logger) *Pool {
	if escalator == nil {
		escalator = NoopEscalator{}
	}
	if counters == nil {
		counters = observability.NewCounters()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers:    make(map[uint32]*Worker),
		escalator:  escalator,
		counters:   counters,
		logger:     logger.With("component", "pool"),
		generation: uuid.New(),
	}
}

// Generation identifies this Pool instance's lifetime, logged
// alongside every lifecycle transition so a restart's workers are
// never confused with the previous generation's in an aggregated log
// stream.
func (p *Pool) Generation() uuid.UUID { return p.generation }

// DefaultPoolSize returns the number of workers to allocate by
// default: GOMAXPROCS after automaxprocs has adjusted it for the
// container/cgroup CPU quota, the same sizing signal the teacher's
// supervisors use rather than a hardcoded worker count.
func DefaultPoolSize(logger *slog.Logger) int {
	logFn := func(string, ...any) {}
	if logger != nil {
		l := logger.With("component", "pool")
		logFn = func(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
	}
	if _, err := maxprocs.Set(maxprocs.Logger(logFn)); err != nil && logger != nil {
		logger.Warn("automaxprocs: failed to adjust GOMAXPROCS", "error", err)
	}
	return runtime.GOMAXPROCS(0)
}

// Adopt registers handle's worker with the pool in WorkerStateInit.
// It fails if this worker-id is already adopted.
func (p *Pool) Adopt(handle *scbhandle.Handle) (*Worker, error) {
	id := handle.WorkerID()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[id]; exists {
		return nil, fmt.Errorf("pool: worker %d is already adopted", id)
	}

	w := &Worker{ID: id, Handle: handle, state: scb.WorkerStateInit}
	handle.SetWorkerState(scb.WorkerStateInit)
	p.workers[id] = w
	return w, nil
}

// Register transitions a worker Init -> Registered.
func (p *Pool) Register(workerID uint32) error { return p.transitionByID(workerID, scb.WorkerStateRegistered) }

// Start transitions a worker Registered -> Running, making it
// eligible to receive hints and escalation (spec.md §4.6
// CanReceiveHints).
func (p *Pool) Start(workerID uint32) error { return p.transitionByID(workerID, scb.WorkerStateRunning) }

// Quiesce transitions a worker Running -> Quiescing. Once Quiescing,
// the worker is inert to hints and escalation even though its SCB
// handle otherwise looks unchanged (spec.md §4.6, §8 scenario 5).
func (p *Pool) Quiesce(workerID uint32) error { return p.transitionByID(workerID, scb.WorkerStateQuiescing) }

// Retire transitions a worker Quiescing -> Dead. It does not remove
// the worker from the pool; call Release for that once any final
// observability read is done.
func (p *Pool) Retire(workerID uint32) error { return p.transitionByID(workerID, scb.WorkerStateDead) }

// Release drops a Dead worker from the pool. It is an error to
// release a worker that has not reached WorkerStateDead, to catch
// code that tears down a worker without quiescing it first.
func (p *Pool) Release(workerID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("pool: worker %d is not adopted", workerID)
	}
	if w.state != scb.WorkerStateDead {
		return fmt.Errorf("pool: worker %d must be Dead before Release, is %s", workerID, w.state)
	}
	delete(p.workers, workerID)
	return nil
}

func (p *Pool) transitionByID(workerID uint32, next scb.WorkerState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("pool: worker %d is not adopted", workerID)
	}
	if !w.state.CanTransitionTo(next) {
		return fmt.Errorf("pool: worker %d cannot transition %s -> %s", workerID, w.state, next)
	}

	tr := trace.New("pool.transition", fmt.Sprintf("worker-%d", workerID))
	tr.LazyPrintf("%s -> %s", w.state, next)
	defer tr.Finish()

	p.logger.Debug("worker lifecycle transition", "worker_id", workerID, "from", w.state.String(), "to", next.String(), "pool_generation", p.generation.String())

	w.state = next
	w.Handle.SetWorkerState(next)
	return nil
}

// Worker returns the adopted worker for workerID, if any.
func (p *Pool) Worker(workerID uint32) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[workerID]
	return w, ok
}

// Len reports how many workers are currently adopted.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) snapshotWorkers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}

// MonitorEscalations runs the escalation sweep on interval until ctx
// is cancelled. nowNs supplies the current timestamp in nanoseconds,
// and an escalation stamps that same value into last_escalation_ns;
// cmd/coordinatord passes time.Now().UnixNano(), tests inject a fake
// one so grace-period math is deterministic.
func (p *Pool) MonitorEscalations(ctx context.Context, nowNs func() uint64, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(nowNs())
		}
	}
}

// Sweep runs one escalation pass over every adopted worker at time
// nowNs. It is exported so tests (and a caller that wants a tighter
// loop than MonitorEscalations' ticker) can drive it directly.
func (p *Pool) Sweep(nowNs uint64) {
	for _, w := range p.snapshotWorkers() {
		p.checkEscalation(w, nowNs)
	}
}

func (p *Pool) checkEscalation(w *Worker, nowNs uint64) {
	// Quiescing/Dead/Init/Registered workers are inert to hints and
	// escalation, even though their SCB fields otherwise look
	// unchanged (spec.md §4.6, §8 scenario 5).
	if w.State() != scb.WorkerStateRunning {
		w.unresponsiveSinceNs.Store(0)
		return
	}
	// A worker that never opted into escalation must never be kicked
	// or throttled, no matter how long it withholds acknowledgement
	// (spec.md §4.1, §8 scenario 4).
	if !w.Handle.Escapable() {
		return
	}
	if w.Handle.IsInCriticalSection() != 0 {
		return
	}
	if !w.Handle.YieldRequested() {
		w.unresponsiveSinceNs.Store(0)
		return
	}

	since := w.unresponsiveSinceNs.Load()
	if since == 0 {
		// Just became unresponsive this sweep — wait out a full grace
		// period before escalating rather than acting immediately.
		w.unresponsiveSinceNs.Store(nowNs)
		return
	}
	if nowNs-since < scb.GracePeriodNs {
		return
	}

	p.escalate(w, w.Handle.EscalationPolicy(), nowNs)
	w.unresponsiveSinceNs.Store(nowNs)
}

func (p *Pool) escalate(w *Worker, policy scb.EscalationPolicy, nowNs uint64) {
	if policy == scb.EscalationPolicyNone {
		return
	}

	tr := trace.New("pool.escalate", fmt.Sprintf("worker-%d", w.ID))
	tr.LazyPrintf("policy=%s", policy)
	defer tr.Finish()

	var err error
	switch policy {
	case scb.EscalationPolicyKick:
		err = p.escalator.Kick(w.ID)
	case scb.EscalationPolicyThrottle:
		err = p.escalator.Throttle(w.ID, scb.MaxPriority)
	case scb.EscalationPolicyHybrid:
		kickErr := p.escalator.Kick(w.ID)
		throttleErr := p.escalator.Throttle(w.ID, scb.MaxPriority)
		err = kickErr
		if err == nil {
			err = throttleErr
		}
	default:
		tr.SetError()
		return
	}

	w.Handle.SetLastEscalationNs(nowNs)
	p.counters.RecordEscalation(policy)

	if err != nil {
		tr.SetError()
		p.logger.Warn("escalation action failed", "worker_id", w.ID, "policy", policy.String(), "error", err)
	}
}
