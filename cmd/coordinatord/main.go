// Command coordinatord runs a single-process demonstration of the
// coordinator: an in-memory SCB map, a pool of simulated workers, the
// hint-ring consumer, the escalation monitor, and the observability
// live server, wired together the way a language runtime embedding
// this module would wire them, minus an actual kernel on the other
// end of the SCB map and hint ring.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ankitkpandey1/morpheus/internal/adapter"
	"github.com/ankitkpandey1/morpheus/internal/critical"
	"github.com/ankitkpandey1/morpheus/internal/hints"
	"github.com/ankitkpandey1/morpheus/internal/observability"
	"github.com/ankitkpandey1/morpheus/internal/pool"
	"github.com/ankitkpandey1/morpheus/internal/scb"
	"github.com/ankitkpandey1/morpheus/internal/scbhandle"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "coordinatord")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := scbhandle.NewInMemoryProvider()
	defer provider.Close()

	counters := observability.NewCounters()
	workerPool := pool.New(pool.NoopEscalator{}, counters, logger)
	defensive := hints.NewDefensive()

	ring := hints.NewInMemoryRing(1024)
	defer ring.Close()

	consumer, err := hints.NewConsumer(ring, defensive, counters, hints.Config{Logger: logger})
	if err != nil {
		logger.Error("failed to build hint consumer", "error", err)
		os.Exit(1)
	}

	numWorkers := pool.DefaultPoolSize(logger)
	logger.Info("starting coordinator", "workers", numWorkers, "pool_generation", workerPool.Generation())

	var handles []*scbhandle.Handle
	for i := 0; i < numWorkers; i++ {
		workerID := uint32(i)
		handle, err := scbhandle.New(provider, workerID)
		if err != nil {
			logger.Error("failed to map worker SCB slot", "worker_id", workerID, "error", err)
			os.Exit(1)
		}
		handle.SetEscapable(true)
		handle.SetEscalationPolicy(scb.EscalationPolicyHybrid)

		if _, err := workerPool.Adopt(handle); err != nil {
			logger.Error("failed to adopt worker", "worker_id", workerID, "error", err)
			os.Exit(1)
		}
		if err := workerPool.Register(workerID); err != nil {
			logger.Error("failed to register worker", "worker_id", workerID, "error", err)
			os.Exit(1)
		}
		if err := workerPool.Start(workerID); err != nil {
			logger.Error("failed to start worker", "worker_id", workerID, "error", err)
			os.Exit(1)
		}
		handles = append(handles, handle)
	}

	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error("hint consumer stopped", "error", err)
		}
	}()

	go workerPool.MonitorEscalations(ctx, func() uint64 { return uint64(time.Now().UnixNano()) }, 10*time.Millisecond)

	liveServer := observability.NewLiveServer(logger)
	httpServer := &http.Server{Addr: ":7777", Handler: http.HandlerFunc(liveServer.ServeHTTP)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability live server stopped", "error", err)
		}
	}()
	go liveServer.Run(ctx, counters, time.Second, time.Now)

	runWorkerLoops(ctx, handles, defensive, counters, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	for i := range handles {
		workerID := uint32(i)
		if err := workerPool.Quiesce(workerID); err != nil {
			logger.Warn("failed to quiesce worker", "worker_id", workerID, "error", err)
			continue
		}
		if err := workerPool.Retire(workerID); err != nil {
			logger.Warn("failed to retire worker", "worker_id", workerID, "error", err)
			continue
		}
		if err := workerPool.Release(workerID); err != nil {
			logger.Warn("failed to release worker", "worker_id", workerID, "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// runWorkerLoops starts one goroutine per worker running a trivial
// busy loop that checks in at a safe point every millisecond, the
// shape a real language adapter's work loop takes (spec.md §4.7).
func runWorkerLoops(ctx context.Context, handles []*scbhandle.Handle, defensive *hints.Defensive, counters *observability.Counters, logger *slog.Logger) {
	for _, h := range handles {
		h := h
		// This demo runs every worker loop as a goroutine rather than a
		// pinned OS thread, so there is no real per-thread identity to
		// assert against; the guard's cross-thread check is inert here
		// and only meaningful once a runtime integration pins each
		// worker the way internal/registry does.
		guard := critical.NewGuard(h, func() int { return 0 })
		a := adapter.NewWorkerAdapter(h, guard, defensive, func() {
			time.Sleep(time.Microsecond)
		}, true, counters)

		go func() {
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.EnterSafePoint()
				}
			}
		}()
	}
}
