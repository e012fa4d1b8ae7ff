package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

// Register/Unregister pin the calling goroutine to an OS thread via
// runtime.LockOSThread, so each scenario below runs in its own
// goroutine and waits for it to finish before the next one starts.

func TestRegisterAndTryCurrent(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		provider := scbhandle.NewInMemoryProvider()
		defer provider.Close()

		r := New(NoopRegistrar{})

		_, ok := r.TryCurrent()
		assert.False(t, ok, "unregistered thread must not have a current entry")

		entry, err := r.Register(provider, 3)
		require.NoError(t, err)
		assert.EqualValues(t, 3, entry.WorkerID)

		got, ok := r.TryCurrent()
		require.True(t, ok)
		assert.Equal(t, entry, got)

		require.NoError(t, r.Unregister())

		_, ok = r.TryCurrent()
		assert.False(t, ok, "entry must be gone after Unregister")
	}()
	wg.Wait()
}

func TestRegisterRejectsOutOfRangeWorkerID(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		provider := scbhandle.NewInMemoryProvider()
		defer provider.Close()

		r := New(NoopRegistrar{})
		_, err := r.Register(provider, scb.MaxWorkers)
		assert.Error(t, err)
	}()
	wg.Wait()
}

func TestDoubleRegisterSameThreadFails(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		provider := scbhandle.NewInMemoryProvider()
		defer provider.Close()

		r := New(NoopRegistrar{})
		_, err := r.Register(provider, 1)
		require.NoError(t, err)

		_, err = r.Register(provider, 2)
		assert.Error(t, err, "the same OS thread cannot register twice without unregistering first")

		require.NoError(t, r.Unregister())
	}()
	wg.Wait()
}
