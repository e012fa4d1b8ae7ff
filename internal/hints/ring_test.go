package hints

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

func TestInMemoryRingPollTimeout(t *testing.T) {
	r := NewInMemoryRing(1)
	_, err := r.Poll(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestInMemoryRingPushAndPoll(t *testing.T) {
	r := NewInMemoryRing(1)
	r.Push(scb.HintRecord{Seq: 1})

	rec, err := r.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Seq)
}

func TestInMemoryRingClosedPollErrors(t *testing.T) {
	r := NewInMemoryRing(1)
	r.Close()

	_, err := r.Poll(context.Background(), time.Second)
	assert.Error(t, err)
}

type fakeRawRing struct {
	payload []byte
}

func (f fakeRawRing) PollRaw(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return f.payload, nil
}

func TestDecodingRingDiscardsTruncatedPayload(t *testing.T) {
	ring := NewDecodingRing(fakeRawRing{payload: []byte{1, 2, 3}})
	_, err := ring.Poll(context.Background(), time.Second)
	assert.Error(t, err)
}

func TestDecodingRingRoundTrip(t *testing.T) {
	rec := scb.HintRecord{Seq: 42, Reason: scb.HintReasonPressure, TargetTID: 7, DeadlineNs: 99}
	wire := rec.Marshal()
	ring := NewDecodingRing(fakeRawRing{payload: wire[:]})

	got, err := ring.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

type erroringRawRing struct{}

func (erroringRawRing) PollRaw(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestDecodingRingPropagatesRawError(t *testing.T) {
	ring := NewDecodingRing(erroringRawRing{})
	_, err := ring.Poll(context.Background(), time.Second)
	assert.Error(t, err)
}
