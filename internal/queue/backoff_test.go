package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, time.Second, Delay(base, max, 0))
	assert.Equal(t, 2*time.Second, Delay(base, max, 1))
	assert.Equal(t, 4*time.Second, Delay(base, max, 2))
	assert.Equal(t, 8*time.Second, Delay(base, max, 3))
	assert.Equal(t, 16*time.Second, Delay(base, max, 4))
	assert.Equal(t, max, Delay(base, max, 5), "32s caps at 30s")
}

func TestDelayMonotonic(t *testing.T) {
	base := 250 * time.Millisecond
	max := 10 * time.Minute

	prev := time.Duration(0)
	for count := 0; count < 80; count++ {
		d := Delay(base, max, count)
		assert.GreaterOrEqual(t, d, prev, "backoff must never shrink as retries grow")
		assert.LessOrEqual(t, d, max)
		prev = d
	}
	assert.Equal(t, max, Delay(base, max, 80), "huge retry counts saturate at the cap")
}

func TestDelayShiftWrapSaturates(t *testing.T) {
	// A base with more than one bit set can wrap to a small positive value
	// under a large shift; the result must still saturate at the cap.
	base := time.Duration(1<<40 + 1)
	max := 30 * time.Minute

	for count := 0; count < 62; count++ {
		assert.LessOrEqual(t, Delay(base, max, count), max)
		assert.GreaterOrEqual(t, Delay(base, max, count), base)
	}
	assert.Equal(t, max, Delay(base, max, 24))
}
