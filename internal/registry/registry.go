// Package registry binds the current OS thread to a (worker-id, SCB
// handle) pair, the way spec.md §4.3 describes. Go has no native
// thread-local storage, so this package pins the calling goroutine to
// its OS thread with runtime.LockOSThread and uses the kernel TID
// (golang.org/x/sys/unix.Gettid) as the lookup key — the same TID the
// kernel-side registration call below is keyed on, which is also
// exactly the "kernel TID registration/unregistration" spec.md asks
// for.
package registry

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/net/trace"
	"golang.org/x/sys/unix"

	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// Entry is what the registry binds to a registered OS thread.
type Entry struct {
	WorkerID uint32
	Handle   *scbhandle.Handle
	tid      int
}

// KernelRegistrar is the kernel ABI surface the registry calls into to
// (un)register a TID against a worker-id, per spec.md §4.3 and §6's
// "TID->worker-id map" kernel object. The real kernel side is out of
// scope (spec.md §1); this interface is all the core depends on.
type KernelRegistrar interface {
	RegisterTID(workerID uint32, tid int) error
	UnregisterTID(workerID uint32, tid int) error
}

// NoopRegistrar is a KernelRegistrar that does nothing, for tests and
// for running this core without a real in-kernel scheduler attached.
type NoopRegistrar struct{}

func (NoopRegistrar) RegisterTID(uint32, int) error   { return nil }
func (NoopRegistrar) UnregisterTID(uint32, int) error { return nil }

// Registry maps kernel TID -> Entry. It is created explicitly with New
// rather than lazily initialized; the package keeps no global instance
// of its own.
type Registry struct {
	mu     sync.RWMutex
	byTID  map[int]*Entry
	kernel KernelRegistrar
}

// New creates a Registry that registers/unregisters TIDs through
// kernel. Pass registry.NoopRegistrar{} when no real kernel scheduler
// is attached.
func New(kernel KernelRegistrar) *Registry {
	return &Registry{
		byTID:  make(map[int]*Entry),
		kernel: kernel,
	}
}

// Register pins the calling goroutine to its OS thread, maps the
// worker's SCB slot through provider, and binds (workerID, handle) to
// the current kernel TID. The caller must not call runtime.UnlockOSThread
// on this goroutine until Unregister has been called — doing so would
// let the Go runtime move it to a different OS thread mid-registration.
func (r *Registry) Register(provider scbhandle.MemoryProvider, workerID uint32) (*Entry, error) {
	if workerID >= scb.MaxWorkers {
		return nil, fmt.Errorf("registry: worker id %d out of range [0, %d)", workerID, scb.MaxWorkers)
	}

	runtime.LockOSThread()

	tr := trace.New("registry.Register", fmt.Sprintf("worker-%d", workerID))
	defer tr.Finish()

	tid := unix.Gettid()

	r.mu.Lock()
	if _, exists := r.byTID[tid]; exists {
		r.mu.Unlock()
		runtime.UnlockOSThread()
		tr.LazyPrintf("thread %d already registered", tid)
		tr.SetError()
		return nil, fmt.Errorf("registry: OS thread %d already has a registered worker", tid)
	}
	r.mu.Unlock()

	handle, err := scbhandle.New(provider, workerID)
	if err != nil {
		runtime.UnlockOSThread()
		tr.SetError()
		return nil, fmt.Errorf("registry: %w", err)
	}

	if err := r.kernel.RegisterTID(workerID, tid); err != nil {
		runtime.UnlockOSThread()
		tr.SetError()
		return nil, fmt.Errorf("registry: kernel TID registration failed: %w", err)
	}

	entry := &Entry{WorkerID: workerID, Handle: handle, tid: tid}

	r.mu.Lock()
	r.byTID[tid] = entry
	r.mu.Unlock()

	tr.LazyPrintf("worker %d bound to tid %d", workerID, tid)
	return entry, nil
}

// Unregister unbinds the current thread's entry, unregisters its TID
// with the kernel, and releases the OS thread pin taken by Register.
// It is a no-op if the current thread has no registered entry.
func (r *Registry) Unregister() error {
	tid := unix.Gettid()

	r.mu.Lock()
	entry, ok := r.byTID[tid]
	if ok {
		delete(r.byTID, tid)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	defer runtime.UnlockOSThread()

	tr := trace.New("registry.Unregister", fmt.Sprintf("worker-%d", entry.WorkerID))
	defer tr.Finish()

	if err := r.kernel.UnregisterTID(entry.WorkerID, tid); err != nil {
		tr.SetError()
		return fmt.Errorf("registry: kernel TID unregistration failed: %w", err)
	}
	return nil
}

// TryCurrent returns the entry bound to the calling OS thread, or
// false if this thread is not a registered worker (spec.md §4.3
// "try_current()").
func (r *Registry) TryCurrent() (*Entry, bool) {
	tid := unix.Gettid()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byTID[tid]
	return entry, ok
}

// CurrentTID returns the kernel TID of the calling OS thread. Exposed
// so internal/critical can assert a Guard is used from its owning
// thread without importing this package's full surface.
func CurrentTID() int {
	return unix.Gettid()
}

// Len reports how many workers are currently registered, for tests
// and observability.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTID)
}
