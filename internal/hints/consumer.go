package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

// Recorder is the observability sink the consumer reports into. The
// concrete implementation (internal/observability.Counters) is
// injected so this package has no dependency on how snapshots are
// encoded or exported.
type Recorder interface {
	HintReceived()
	HintsDropped(n uint32)
	DefensiveTriggered()
	RingError()
}

// NoopRecorder discards everything, for tests that don't care about
// counters.
type NoopRecorder struct{}

func (NoopRecorder) HintReceived()       {}
func (NoopRecorder) HintsDropped(uint32) {}
func (NoopRecorder) DefensiveTriggered() {}
func (NoopRecorder) RingError()          {}

// Config tunes the hint consumer. Zero values fall back to the
// runtime-configurable defaults of spec.md §6.
type Config struct {
	// DefensiveYields is the yield count a defensive-entry grants
	// (default 100).
	DefensiveYields uint32
	// PollTimeout bounds each ring poll (default 1ms), keeping
	// shutdown responsive (spec.md §5 "Cancellation / timeouts").
	PollTimeout time.Duration
	// BreakerMaxFailures is how many consecutive non-timeout poll
	// errors are tolerated before the circuit opens and defensive
	// mode is locked down permanently.
	BreakerMaxFailures uint32
	// EscalationLogPerSecond caps how often a single defensive-entry
	// is logged at Warn level, so a storm of gaps doesn't flood logs.
	EscalationLogPerSecond int64
	Logger                 *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DefensiveYields == 0 {
		c.DefensiveYields = scb.DefaultYieldsN
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = time.Duration(scb.DefaultPollMs) * time.Millisecond
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = 5
	}
	if c.EscalationLogPerSecond == 0 {
		c.EscalationLogPerSecond = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Consumer is the single dedicated drain thread of spec.md §4.4. One
// Consumer owns one Ring; it is not safe to call Run from more
// than one goroutine at a time (the ring is single-consumer by
// contract).
type Consumer struct {
	cfg       Config
	ring      Ring
	defensive *Defensive
	recorder  Recorder
	logger    *slog.Logger
	id        uuid.UUID

	breaker      *gobreaker.CircuitBreaker[scb.HintRecord]
	logLimiter   *limiter.TokenBucket
	limiterStore store.Store

	mu          sync.Mutex
	lastSeenSeq uint64
	seen        *bloom.BloomFilter
}

// NewConsumer builds a Consumer draining ring into defensive/recorder.
func NewConsumer(ring Ring, defensive *Defensive, recorder Recorder, cfg Config) (*Consumer, error) {
	if ring == nil {
		return nil, errors.New("hints: NewConsumer requires a non-nil ring")
	}
	if defensive == nil {
		defensive = NewDefensive()
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	cfg = cfg.withDefaults()
	id := uuid.New()
	logger := cfg.Logger.With("component", "hints.consumer", "consumer_id", id.String())

	limiterStore := store.NewMemoryStore(time.Minute)
	tb, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     cfg.EscalationLogPerSecond,
		Duration: time.Second,
		Burst:    cfg.EscalationLogPerSecond,
	}, limiterStore)
	if err != nil {
		return nil, fmt.Errorf("hints: building escalation log limiter: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[scb.HintRecord](gobreaker.Settings{
		Name:        "hint-ring",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPollTimeout)
		},
	})

	return &Consumer{
		cfg:          cfg,
		ring:         ring,
		defensive:    defensive,
		recorder:     recorder,
		logger:       logger,
		id:           id,
		breaker:      breaker,
		logLimiter:   tb,
		limiterStore: limiterStore,
		seen:         bloom.NewWithEstimates(10_000, 0.01),
	}, nil
}

// ID is the correlation id attached to every log line this consumer
// writes, including its rate-limited defensive-entry warnings and the
// permanent-lockdown error.
func (c *Consumer) ID() uuid.UUID { return c.id }

// Defensive returns the defensive-mode flag this consumer drives.
func (c *Consumer) Defensive() *Defensive { return c.defensive }

// Run drains the ring until ctx is cancelled. A poll timeout is not an
// error and is retried without logging; other transient errors
// (spurious wakeup, a truncated/unknown-reason record) are logged and
// the loop continues (spec.md §7 "Transient ring errors").
// A sustained run of failures trips the circuit breaker, at which
// point defensive mode is locked down permanently and Run keeps
// polling (in case the ring recovers) but no longer unwinds.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rec, err := c.breaker.Execute(func() (scb.HintRecord, error) {
			return c.ring.Poll(ctx, c.cfg.PollTimeout)
		})

		switch {
		case err == nil:
			backoff = time.Millisecond
			c.process(rec)

		case errors.Is(err, ErrPollTimeout):
			backoff = time.Millisecond
			continue

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil

		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			if !c.defensive.locked.Load() {
				c.defensive.Lockdown()
				c.recorder.RingError()
				c.logger.Error("hint ring unreachable, entering permanent defensive mode")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(maxBackoff):
			}

		default:
			c.recorder.RingError()
			c.logger.Warn("hint ring poll failed, discarding record", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
}

// process applies one decoded record: dedup, sequence-gap accounting,
// and defensive-entry, per spec.md §4.4 steps 1-2.
func (c *Consumer) process(rec scb.HintRecord) {
	key := dedupKey(rec)

	c.mu.Lock()
	if c.seen.Test(key) {
		c.mu.Unlock()
		return
	}
	c.seen.Add(key)

	c.recorder.HintReceived()

	var gap uint64
	if c.lastSeenSeq > 0 && rec.Seq > c.lastSeenSeq+1 {
		gap = rec.Seq - c.lastSeenSeq - 1
	}
	if rec.Seq > c.lastSeenSeq {
		c.lastSeenSeq = rec.Seq
	}
	c.mu.Unlock()

	if gap > 0 {
		c.recorder.HintsDropped(uint32(gap))
		c.enterDefensive(rec, gap)
	}
}

func (c *Consumer) enterDefensive(rec scb.HintRecord, gap uint64) {
	c.defensive.Enter(c.cfg.DefensiveYields)
	c.recorder.DefensiveTriggered()

	if c.logLimiter.Allow(c.id.String()) {
		c.logger.Warn("hint sequence gap detected, entering defensive mode",
			"seq", rec.Seq, "gap", gap, "target_tid", rec.TargetTID)
	}
}

func dedupKey(rec scb.HintRecord) []byte {
	var buf [12]byte
	buf[0] = byte(rec.Seq)
	buf[1] = byte(rec.Seq >> 8)
	buf[2] = byte(rec.Seq >> 16)
	buf[3] = byte(rec.Seq >> 24)
	buf[4] = byte(rec.Seq >> 32)
	buf[5] = byte(rec.Seq >> 40)
	buf[6] = byte(rec.Seq >> 48)
	buf[7] = byte(rec.Seq >> 56)
	buf[8] = byte(rec.TargetTID)
	buf[9] = byte(rec.TargetTID >> 8)
	buf[10] = byte(rec.TargetTID >> 16)
	buf[11] = byte(rec.TargetTID >> 24)
	return buf[:]
}
