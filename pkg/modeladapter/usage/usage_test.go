package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_ZeroValue(t *testing.T) {
	var tr Tracker

	_, ok := tr.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Count())
	assert.Equal(t, TokenCount{}, tr.Total())
}

func TestTracker_AddAndTotal(t *testing.T) {
	var tr Tracker

	tr.Add(TokenCount{InputTokens: 10, OutputTokens: 5, Duration: time.Second})
	tr.Add(TokenCount{InputTokens: 20, OutputTokens: 15, Duration: 2 * time.Second})

	last, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, 20, last.InputTokens)

	total := tr.Total()
	assert.Equal(t, 30, total.InputTokens)
	assert.Equal(t, 20, total.OutputTokens)
	assert.Equal(t, 50, total.Total())
	assert.Equal(t, 3*time.Second, total.Duration)
	assert.Equal(t, 2, tr.Count())
}

func TestTracker_Reset(t *testing.T) {
	var tr Tracker
	tr.Add(TokenCount{InputTokens: 1})

	tr.Reset()

	assert.Equal(t, 0, tr.Count())
	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestTokenCount_TokensPerSecond(t *testing.T) {
	assert.Zero(t, TokenCount{OutputTokens: 10}.TokensPerSecond())
	assert.InDelta(t, 5.0, TokenCount{OutputTokens: 10, Duration: 2 * time.Second}.TokensPerSecond(), 1e-9)
}

func TestTracker_Concurrent(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(TokenCount{InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Count())
	assert.Equal(t, 100, tr.Total().Total())
}
