// Package ratelimit suppresses repeated error log lines. A community that is
// permanently unreachable would otherwise emit the same error every cycle.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultInterval is how often the same error key may be logged.
	DefaultInterval = 5 * time.Minute
	// NoisyInterval applies to known-noisy signatures such as failed IPNS
	// resolution of offline communities.
	NoisyInterval = 15 * time.Minute

	sweepInterval = time.Hour
	retentionTime = 2 * time.Hour
)

type entry struct {
	count      int
	lastLogged time.Time
}

// Limiter tracks (source, error signature) keys and decides whether an
// occurrence should be logged. Entries untouched for the retention window
// are swept so memory stays bounded no matter how many distinct signatures
// show up over the process lifetime.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// ShouldLog records an occurrence of key and reports whether it should be
// logged now. The first occurrence always logs; afterwards at most once per
// interval.
func (l *Limiter) ShouldLog(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	interval := intervalFor(key)

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.count++

	if now.Sub(e.lastLogged) > interval {
		e.lastLogged = now
		e.count = 0
		return true
	}
	return false
}

// Count returns the number of suppressed occurrences since the key last
// logged.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.count
	}
	return 0
}

// Sweep evicts entries whose last logged time is older than the retention
// window and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for key, e := range l.entries {
		if now.Sub(e.lastLogged) > retentionTime {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

// Run sweeps the limiter hourly until the context is cancelled.
func (l *Limiter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if evicted := l.Sweep(); evicted > 0 {
				log.WithFields(log.Fields{
					"evicted": evicted,
				}).Debug("Swept error rate limiter entries")
			}
		}
	}
}

// IsNoisyKey reports whether the key matches a signature known to repeat for
// long stretches, which gets the longer suppression interval.
func IsNoisyKey(key string) bool {
	return strings.Contains(key, "Failed to resolve IPNS")
}

func intervalFor(key string) time.Duration {
	if IsNoisyKey(key) {
		return NoisyInterval
	}
	return DefaultInterval
}
