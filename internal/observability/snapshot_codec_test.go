package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		HintsReceived:     100,
		HintsDropped:      7,
		DefensiveTriggers: 2,
		RingErrors:        1,
		EscalationsByPolicy: map[scb.EscalationPolicy]uint64{
			scb.EscalationPolicyKick:     4,
			scb.EscalationPolicyThrottle: 1,
			scb.EscalationPolicyHybrid:   0,
		},
		TakenAt: time.Unix(1_700_000_000, 0),
	}
}

func TestEncodeDecodeSnapshotRoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	wire, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	require.NotEmpty(t, wire)

	got, err := DecodeSnapshot(wire)
	require.NoError(t, err)

	assert.Equal(t, snap.HintsReceived, got.HintsReceived)
	assert.Equal(t, snap.HintsDropped, got.HintsDropped)
	assert.Equal(t, snap.DefensiveTriggers, got.DefensiveTriggers)
	assert.Equal(t, snap.RingErrors, got.RingErrors)
	assert.True(t, snap.TakenAt.Equal(got.TakenAt))
	assert.EqualValues(t, 4, got.EscalationsByPolicy[scb.EscalationPolicyKick])
	assert.EqualValues(t, 1, got.EscalationsByPolicy[scb.EscalationPolicyThrottle])
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestHistoryWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHistoryWriter(&buf)

	first := sampleSnapshot()
	second := sampleSnapshot()
	second.HintsReceived = 200

	require.NoError(t, hw.Append(first))
	require.NoError(t, hw.Append(second))

	records, err := ReadHistory(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.EqualValues(t, 100, records[0].HintsReceived)
	assert.EqualValues(t, 200, records[1].HintsReceived)
}

func TestReadHistoryEmptyStreamIsEmptySlice(t *testing.T) {
	records, err := ReadHistory(&bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
