package reprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute)
	assert.True(t, b.allow())

	assert.Equal(t, BreakerClosed, b.failure())
	assert.Equal(t, BreakerClosed, b.failure())
	assert.True(t, b.allow(), "breaker must stay closed below the threshold")

	assert.Equal(t, BreakerOpen, b.failure())
	assert.False(t, b.allow())
}

func TestBreakerSuccessResetsConsecutive(t *testing.T) {
	b := newBreaker(3, time.Minute)
	b.failure()
	b.failure()
	b.success()
	b.failure()
	b.failure()
	// consecutive streak was broken; still closed
	state, consecutive, total := b.snapshot()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 2, consecutive)
	assert.Equal(t, 4, total)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.failure()
	assert.False(t, b.allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.allow(), "reset window elapsed: one probe is allowed")
	state, _, _ := b.snapshot()
	assert.Equal(t, BreakerHalfOpen, state)

	// probe success closes the circuit
	b.success()
	state, consecutive, _ := b.snapshot()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 0, consecutive)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		b.failure()
	}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.allow())

	// a single half-open failure reopens regardless of the threshold
	assert.Equal(t, BreakerOpen, b.failure())
	assert.False(t, b.allow())
}

func TestBreakerForceReset(t *testing.T) {
	b := newBreaker(1, time.Hour)
	b.failure()
	assert.False(t, b.allow())

	b.forceReset()
	assert.True(t, b.allow())
	state, consecutive, total := b.snapshot()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 0, consecutive)
	assert.Equal(t, 1, total, "total error count survives a reset")
}
