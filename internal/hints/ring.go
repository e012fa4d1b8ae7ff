// Package hints drains the kernel's hint ring and drives the
// defensive-mode state machine described in spec.md §4.4: a single
// dedicated thread consumes hint records, detects sequence gaps,
// accounts for drops, and forces extra yields when loss is observed.
package hints

import (
	"context"
	"errors"
	"time"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

// ErrPollTimeout is returned by Ring.Poll when no record arrived before
// the timeout elapsed. It is not an error condition (spec.md §7 "Poll
// timeout (not an error)") — callers should treat it as "try again".
var ErrPollTimeout = errors.New("hints: poll timeout")

// Ring is the kernel object the consumer drains: a single-producer
// (kernel), single-consumer (this package's drain loop) ordered stream
// of 24-byte hint records (spec.md §6 "a hint ring" kernel object).
type Ring interface {
	// Poll returns the next record, ErrPollTimeout if none arrived
	// within timeout, or another error for a transient/persistent ring
	// failure.
	Poll(ctx context.Context, timeout time.Duration) (scb.HintRecord, error)
}

// InMemoryRing is a Ring backed by a Go channel, for tests and for
// driving this core without a real mapped kernel ring.
type InMemoryRing struct {
	records chan scb.HintRecord
	closed  chan struct{}
}

// NewInMemoryRing creates a Ring with the given buffer depth.
func NewInMemoryRing(capacity int) *InMemoryRing {
	return &InMemoryRing{
		records: make(chan scb.HintRecord, capacity),
		closed:  make(chan struct{}),
	}
}

// Push enqueues a record as the single producer. It panics if called
// after Close, matching the single-producer contract this type exists
// to simulate.
func (r *InMemoryRing) Push(rec scb.HintRecord) {
	select {
	case <-r.closed:
		panic("hints: Push on a closed InMemoryRing")
	default:
	}
	select {
	case r.records <- rec:
	case <-r.closed:
		panic("hints: Push on a closed InMemoryRing")
	}
}

// Close marks the ring permanently unreachable, simulating a
// persistent ring failure (spec.md §4.4, §7.4).
func (r *InMemoryRing) Close() {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
}

func (r *InMemoryRing) Poll(ctx context.Context, timeout time.Duration) (scb.HintRecord, error) {
	select {
	case <-r.closed:
		return scb.HintRecord{}, errors.New("hints: ring closed")
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-r.records:
		return rec, nil
	case <-r.closed:
		return scb.HintRecord{}, errors.New("hints: ring closed")
	case <-ctx.Done():
		return scb.HintRecord{}, ctx.Err()
	case <-timer.C:
		return scb.HintRecord{}, ErrPollTimeout
	}
}

// RawRing is the byte-level shape a mapped/native hint ring exposes:
// it hands back whatever bytes are next in the stream without
// opinion on their validity. decodingRing is responsible for turning
// that into HintRecords and discarding truncated payloads (spec.md
// §4.4 "truncated records are discarded").
type RawRing interface {
	PollRaw(ctx context.Context, timeout time.Duration) ([]byte, error)
}

type decodingRing struct {
	raw RawRing
}

// NewDecodingRing adapts a RawRing (e.g. a native shared-memory ring
// reader) into a Ring that yields decoded, validated HintRecords.
func NewDecodingRing(raw RawRing) Ring {
	return &decodingRing{raw: raw}
}

func (d *decodingRing) Poll(ctx context.Context, timeout time.Duration) (scb.HintRecord, error) {
	buf, err := d.raw.PollRaw(ctx, timeout)
	if err != nil {
		return scb.HintRecord{}, err
	}
	return scb.UnmarshalHintRecord(buf)
}
