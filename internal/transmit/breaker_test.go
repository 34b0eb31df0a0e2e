package transmit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
	assert.True(t, b.IsOpen())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow())
	// Only one probe while the first is in flight.
	assert.False(t, b.Allow())
}

func TestBreakerProbeOutcomes(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordFailure()
	// Failed probe reopens for another full timeout.
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
}
