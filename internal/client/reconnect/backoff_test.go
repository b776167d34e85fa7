package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Next(t *testing.T) {
	b := DefaultBackoff()
	cases := []struct {
		interval time.Duration
		attempts int
		want     time.Duration
	}{
		{time.Second, 0, 2 * time.Second}, // at threshold: default
		{500 * time.Millisecond, 5, 2 * time.Second},
		{2 * time.Second, 1, 2 * time.Second},   // floor(1.5) = 1
		{2 * time.Second, 2, 4 * time.Second},   // floor(2.25) = 2
		{4 * time.Second, 3, 12 * time.Second},  // floor(3.375) = 3
		{12 * time.Second, 4, 30 * time.Second}, // 60s clamped
		{30 * time.Second, 9, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Next(tc.interval, tc.attempts), "interval=%v attempts=%d", tc.interval, tc.attempts)
	}
}

func TestBackoff_ScheduleUntilCap(t *testing.T) {
	b := DefaultBackoff()
	interval, attempts := b.Initial, 0

	var scheduled []time.Duration
	for closes := 1; ; closes++ {
		interval = b.Next(interval, attempts)
		attempts++
		if b.Exhausted(attempts) {
			assert.Equal(t, 10, closes, "the tenth close gives up")
			break
		}
		scheduled = append(scheduled, interval)
	}

	assert.Len(t, scheduled, 9)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 4 * time.Second, 12 * time.Second}, scheduled[:4])
	for i := 1; i < len(scheduled); i++ {
		assert.GreaterOrEqual(t, scheduled[i], scheduled[i-1])
	}
}

func TestBackoff_Normalize(t *testing.T) {
	b := Backoff{Default: time.Millisecond}.normalize()
	assert.Equal(t, time.Millisecond, b.Default)
	assert.Equal(t, time.Second, b.Initial)
	assert.Equal(t, 1.5, b.Decay)
	assert.Equal(t, 10, b.MaxAttempts)
}
