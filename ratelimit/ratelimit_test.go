package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	now := start
	l := NewLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestFirstOccurrenceAlwaysLogs(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))
	assert.True(t, l.ShouldLog("a.eth:connection refused"))
}

func TestRepeatedOccurrencesAreBounded(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	key := "a.eth:connection refused"
	logged := 0
	for i := 0; i < 100; i++ {
		if l.ShouldLog(key) {
			logged++
		}
	}

	assert.Equal(t, 1, logged)
	assert.Equal(t, 99, l.Count(key))
}

func TestLogsAgainAfterInterval(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1700000000, 0))

	key := "a.eth:connection refused"
	assert.True(t, l.ShouldLog(key))
	assert.False(t, l.ShouldLog(key))

	*now = now.Add(DefaultInterval + time.Second)
	assert.True(t, l.ShouldLog(key))
}

func TestNoisyKeysUseLongerInterval(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1700000000, 0))

	key := "a.eth:Failed to resolve IPNS name"
	assert.True(t, l.ShouldLog(key))

	// Past the default interval but within the noisy one.
	*now = now.Add(DefaultInterval + time.Second)
	assert.False(t, l.ShouldLog(key))

	*now = now.Add(NoisyInterval)
	assert.True(t, l.ShouldLog(key))
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	for i := 0; i < 5; i++ {
		assert.True(t, l.ShouldLog(fmt.Sprintf("sub%d.eth:timeout", i)))
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1700000000, 0))

	l.ShouldLog("stale.eth:timeout")
	*now = now.Add(retentionTime / 2)
	l.ShouldLog("fresh.eth:timeout")

	*now = now.Add(retentionTime/2 + time.Second)
	assert.Equal(t, 1, l.Sweep())

	// Swept keys log again immediately on their next occurrence.
	assert.True(t, l.ShouldLog("stale.eth:timeout"))
}
