package modeladapter

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/modeladapter/usage"
)

var (
	_ Completer     = (*Throttled)(nil)
	_ Generator     = (*Throttled)(nil)
	_ UsageReporter = (*Throttled)(nil)
)

// ErrNotGenerator is returned by Throttled.Generate when the wrapped adapter
// does not implement Generator.
var ErrNotGenerator = errors.New("adapter: wrapped completer does not support raw generation")

// ThrottleOpts configures a Throttled wrapper.
type ThrottleOpts struct {
	RPM        int           // Requests per minute (0 = no limit).
	MaxRetries int           // Retries on a busy runtime (default 3).
	BaseDelay  time.Duration // Initial backoff delay (default 1s).
}

// Throttled wraps a Completer with request pacing over a one-minute sliding
// window and retry with exponential backoff when the runtime reports busy.
// Generate is forwarded the same way when the inner value is a Generator.
type Throttled struct {
	inner      Completer
	mu         sync.Mutex
	window     []time.Time
	rpm        int
	maxRetries int
	baseDelay  time.Duration
	fallback   usage.Tracker

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
}

// NewThrottled wraps inner with the given options.
func NewThrottled(inner Completer, opts ThrottleOpts) *Throttled {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	return &Throttled{
		inner:      inner,
		rpm:        opts.RPM,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		nowFunc:    time.Now,
		sleepFunc:  contextSleep,
		randFunc:   rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (t *Throttled) SetNowFunc(fn func() time.Time) { t.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (t *Throttled) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	t.sleepFunc = fn
}

// SetRandFunc overrides the jitter source (for testing).
func (t *Throttled) SetRandFunc(fn func() float64) { t.randFunc = fn }

// Inner returns the wrapped completer.
func (t *Throttled) Inner() Completer { return t.inner }

// Complete implements Completer.
func (t *Throttled) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	var reply message.Message
	err := t.do(ctx, func() error {
		var err error
		reply, err = t.inner.Complete(ctx, c)
		return err
	})
	if err != nil {
		return message.Message{}, err
	}
	return reply, nil
}

// Generate implements Generator.
func (t *Throttled) Generate(ctx context.Context, prompt string) (string, error) {
	gen, ok := t.inner.(Generator)
	if !ok {
		return "", ErrNotGenerator
	}

	var out string
	err := t.do(ctx, func() error {
		var err error
		out, err = gen.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Embed forwards to the inner value when it is an Embedder. Embedding calls
// are paced like completions.
func (t *Throttled) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	emb, ok := t.inner.(Embedder)
	if !ok {
		return nil, errors.New("adapter: wrapped completer does not support embeddings")
	}

	var out [][]float32
	err := t.do(ctx, func() error {
		var err error
		out, err = emb.Embed(ctx, inputs)
		return err
	})
	return out, err
}

// UsageTracker forwards to the inner completer when it reports usage.
func (t *Throttled) UsageTracker() *usage.Tracker {
	if ur, ok := t.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &t.fallback
}

func (t *Throttled) do(ctx context.Context, call func() error) error {
	var lastErr error

	for attempt := range t.maxRetries + 1 {
		if err := t.waitForSlot(ctx); err != nil {
			return err
		}

		err := call()
		if err == nil {
			return nil
		}

		var busy *BusyError
		if !errors.As(err, &busy) {
			return err
		}
		lastErr = err

		if attempt >= t.maxRetries {
			break
		}

		backoff := t.jitter(max(
			t.baseDelay*time.Duration(math.Pow(2, float64(attempt))), //nolint:mnd // exponential backoff
			busy.RetryAfter,
		))

		if err := t.sleepFunc(ctx, backoff); err != nil {
			return err
		}
	}

	return lastErr
}

// waitForSlot blocks until the sliding window has room, then records the
// request.
func (t *Throttled) waitForSlot(ctx context.Context) error {
	if t.rpm <= 0 {
		return nil
	}

	for {
		t.mu.Lock()
		now := t.nowFunc()
		cutoff := now.Add(-time.Minute)

		i := 0
		for i < len(t.window) && !t.window[i].After(cutoff) {
			i++
		}
		t.window = t.window[i:]

		if len(t.window) < t.rpm {
			t.window = append(t.window, now)
			t.mu.Unlock()
			return nil
		}

		wait := max(t.window[0].Add(time.Minute).Sub(now), 10*time.Millisecond)
		t.mu.Unlock()

		if err := t.sleepFunc(ctx, wait); err != nil {
			return err
		}
	}
}

// jitter applies ±25% random jitter to a duration.
func (t *Throttled) jitter(d time.Duration) time.Duration {
	factor := 0.75 + t.randFunc()*0.5 //nolint:mnd // jitter range
	return time.Duration(float64(d) * factor)
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
