package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

func TestCountersAccumulate(t *testing.T) {
	c := NewCounters()
	c.HintReceived()
	c.HintReceived()
	c.HintsDropped(3)
	c.DefensiveTriggered()
	c.RingError()

	snap := c.Snapshot(time.Unix(0, 0))
	assert.EqualValues(t, 2, snap.HintsReceived)
	assert.EqualValues(t, 3, snap.HintsDropped)
	assert.EqualValues(t, 1, snap.DefensiveTriggers)
	assert.EqualValues(t, 1, snap.RingErrors)
}

func TestCountersEscalationsByPolicy(t *testing.T) {
	c := NewCounters()
	c.RecordEscalation(scb.EscalationPolicyKick)
	c.RecordEscalation(scb.EscalationPolicyKick)
	c.RecordEscalation(scb.EscalationPolicyHybrid)

	snap := c.Snapshot(time.Unix(0, 0))
	assert.EqualValues(t, 2, snap.EscalationsByPolicy[scb.EscalationPolicyKick])
	assert.EqualValues(t, 1, snap.EscalationsByPolicy[scb.EscalationPolicyHybrid])
	assert.EqualValues(t, 0, snap.EscalationsByPolicy[scb.EscalationPolicyThrottle])
}

func TestAckLatencySamplesAreBounded(t *testing.T) {
	c := NewCounters()
	for i := 0; i < maxAckLatencySamples+50; i++ {
		c.RecordAckLatency(1, time.Millisecond)
	}

	snap := c.Snapshot(time.Unix(0, 0))
	assert.Len(t, snap.AckLatencySamples[1], maxAckLatencySamples)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	c := NewCounters()
	c.RecordEscalation(scb.EscalationPolicyKick)

	snap := c.Snapshot(time.Unix(0, 0))
	snap.EscalationsByPolicy[scb.EscalationPolicyKick] = 999

	fresh := c.Snapshot(time.Unix(0, 0))
	assert.EqualValues(t, 1, fresh.EscalationsByPolicy[scb.EscalationPolicyKick], "mutating a returned snapshot must not affect the live counters")
}
