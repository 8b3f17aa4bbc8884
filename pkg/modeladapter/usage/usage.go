// Package usage accumulates token counts and generation time reported by a
// model runtime.
package usage

import (
	"sync"
	"time"
)

// TokenCount holds the usage reported for a single model call. Duration is
// the runtime's own measurement of the call when it reports one.
type TokenCount struct {
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Total returns the sum of input and output tokens.
func (tc TokenCount) Total() int {
	return tc.InputTokens + tc.OutputTokens
}

// TokensPerSecond returns the output generation rate, or 0 when no duration
// was reported.
func (tc TokenCount) TokensPerSecond() float64 {
	if tc.Duration <= 0 {
		return 0
	}
	return float64(tc.OutputTokens) / tc.Duration.Seconds()
}

// Tracker accumulates usage across calls. It is safe for concurrent use and
// the zero value is ready to use.
type Tracker struct {
	mu    sync.Mutex
	calls int
	last  TokenCount
	total TokenCount
}

// Add records one call.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.last = tc
	t.total.InputTokens += tc.InputTokens
	t.total.OutputTokens += tc.OutputTokens
	t.total.Duration += tc.Duration
}

// Last returns the most recent entry. The bool is false when nothing has
// been recorded.
func (t *Tracker) Last() (TokenCount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last, t.calls > 0
}

// Total returns the aggregate across all recorded calls.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Count returns the number of recorded calls.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls
}

// Reset clears all recorded usage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = 0
	t.last = TokenCount{}
	t.total = TokenCount{}
}
