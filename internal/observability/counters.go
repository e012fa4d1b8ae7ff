// Package observability gives spec.md §6's "abstract, any format"
// counters a concrete shape, plus the encoding/export machinery to
// publish them.
package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

const maxAckLatencySamples = 256

// Counters is the process-wide observability sink: hints
// received/dropped, defensive-mode triggers, escalations broken down
// by policy, and a bounded ring of recent acknowledgement-latency
// samples per worker (spec.md §6). It implements
// internal/hints.Recorder, and internal/pool's escalation monitor
// records its escalations into it.
type Counters struct {
	hintsReceived     atomic.Uint64
	hintsDropped      atomic.Uint64
	defensiveTriggers atomic.Uint64
	ringErrors        atomic.Uint64

	mu           sync.Mutex
	escalations  map[scb.EscalationPolicy]uint64
	ackLatencies map[uint32][]time.Duration
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{
		escalations:  make(map[scb.EscalationPolicy]uint64),
		ackLatencies: make(map[uint32][]time.Duration),
	}
}

// HintReceived implements internal/hints.Recorder.
func (c *Counters) HintReceived() { c.hintsReceived.Add(1) }

// HintsDropped implements internal/hints.Recorder.
func (c *Counters) HintsDropped(n uint32) { c.hintsDropped.Add(uint64(n)) }

// DefensiveTriggered implements internal/hints.Recorder.
func (c *Counters) DefensiveTriggered() { c.defensiveTriggers.Add(1) }

// RingError implements internal/hints.Recorder.
func (c *Counters) RingError() { c.ringErrors.Add(1) }

// RecordEscalation tallies an escalation event taken under the given
// policy (spec.md §6 "escalations by policy").
func (c *Counters) RecordEscalation(policy scb.EscalationPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalations[policy]++
}

// RecordAckLatency appends a per-worker acknowledgement-latency
// sample, keeping only the most recent maxAckLatencySamples.
func (c *Counters) RecordAckLatency(workerID uint32, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := append(c.ackLatencies[workerID], d)
	if len(samples) > maxAckLatencySamples {
		samples = samples[len(samples)-maxAckLatencySamples:]
	}
	c.ackLatencies[workerID] = samples
}

// Snapshot is a point-in-time, immutable copy of Counters suitable for
// export (logging, the capnp wire format, the websocket push server).
type Snapshot struct {
	HintsReceived       uint64
	HintsDropped        uint64
	DefensiveTriggers   uint64
	RingErrors          uint64
	EscalationsByPolicy map[scb.EscalationPolicy]uint64
	AckLatencySamples   map[uint32][]time.Duration
	TakenAt             time.Time
}

// Snapshot captures the current counter values. TakenAt must be
// stamped by the caller: this package never calls time.Now itself,
// and LiveServer.Run takes its clock as the now argument.
func (c *Counters) Snapshot(takenAt time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	escalations := make(map[scb.EscalationPolicy]uint64, len(c.escalations))
	for k, v := range c.escalations {
		escalations[k] = v
	}
	latencies := make(map[uint32][]time.Duration, len(c.ackLatencies))
	for k, v := range c.ackLatencies {
		cp := make([]time.Duration, len(v))
		copy(cp, v)
		latencies[k] = cp
	}

	return Snapshot{
		HintsReceived:       c.hintsReceived.Load(),
		HintsDropped:        c.hintsDropped.Load(),
		DefensiveTriggers:   c.defensiveTriggers.Load(),
		RingErrors:          c.ringErrors.Load(),
		EscalationsByPolicy: escalations,
		AckLatencySamples:   latencies,
		TakenAt:             takenAt,
	}
}
