package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/rs/zerolog"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier runs an operation up to MaxAttempts times with exponential backoff.
type Retrier struct {
	MaxAttempts int
	Backoff     BackoffConfig
	Sleep       SleepFunc
	Log         zerolog.Logger
	rng         *rand.Rand
}

func NewRetrier(cfg Config, log zerolog.Logger) *Retrier {
	cfg = cfg.WithDefaults()
	return &Retrier{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Sleep:       SleepContext,
		Log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs op until it succeeds or attempts run out. The final failure is
// returned unchanged. Backoff waits observe ctx, so a wait that outlives the
// deadline fails with protocol.ErrTimeout before the next attempt starts.
func (r *Retrier) Do(ctx context.Context, desc string, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	for attempt := 1; ; attempt++ {
		r.Log.Info().Str("op", desc).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("attempt")
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			r.Log.Debug().Err(err).Str("op", desc).Int("attempts", attempt).Msg("giving up")
			return err
		}
		delay := NextBackoffDelay(r.Backoff, attempt, r.rng)
		r.Log.Warn().Err(err).Str("op", desc).Int("attempt", attempt).Dur("backoff", delay).Msg("attempt failed, retrying")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// SleepContext waits for d, failing with protocol.ErrTimeout if ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: backoff wait: %w", protocol.ErrTimeout, ctx.Err())
	case <-timer.C:
		return nil
	}
}
