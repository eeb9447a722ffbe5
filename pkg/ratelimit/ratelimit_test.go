package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(50 * time.Millisecond)

	assert.True(t, l.Allow(base), "first update is always admitted")
	assert.False(t, l.Allow(base.Add(10*time.Millisecond)), "second update 10ms later is dropped")
	assert.True(t, l.Allow(base.Add(60*time.Millisecond)), "third update 60ms after the first is admitted")
}

func TestLimiterClockAdvancesOnAttempt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(50 * time.Millisecond)

	assert.True(t, l.Allow(base))
	// The admitted attempt at +60ms advances the clock even if the update
	// is later rejected by validation, so +100ms is still too soon.
	assert.True(t, l.Allow(base.Add(60*time.Millisecond)))
	assert.False(t, l.Allow(base.Add(100*time.Millisecond)))
}

func TestLimiterDefaultInterval(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultMinInterval, l.minInterval)
}
