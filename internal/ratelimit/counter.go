// Package ratelimit applies sliding-window quotas per identity and class over
// a pluggable counter store.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter records one hit for key in a sliding window of length window.
// count is the number of hits in the window including this attempt; the
// attempt is only logged when it fits within limit, so rejected hits never
// consume quota and a limit of 0 only reads. resetAt is when the oldest
// logged hit leaves the window.
type Counter interface {
	Incr(ctx context.Context, key string, limit int, window time.Duration) (count int64, resetAt time.Time, err error)
}

// MemoryCounter is an in-process sliding-log counter.
type MemoryCounter struct {
	mu        sync.Mutex
	now       func() time.Time
	items     map[string]*hitLog
	lastSweep time.Time
}

type hitLog struct {
	hits   []time.Time
	window time.Duration
}

// prune drops hits that are window or more before now.
func (l *hitLog) prune(now time.Time) {
	cut := 0
	for cut < len(l.hits) && now.Sub(l.hits[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.hits = append(l.hits[:0], l.hits[cut:]...)
	}
}

// sweepEvery bounds how often idle keys are scanned.
const sweepEvery = time.Minute

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		now:   func() time.Time { return time.Now().UTC() },
		items: make(map[string]*hitLog),
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, limit int, window time.Duration) (int64, time.Time, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= sweepEvery {
		c.sweep(now)
		c.lastSweep = now
	}
	log, ok := c.items[key]
	if !ok {
		log = &hitLog{}
		c.items[key] = log
	}
	log.window = window
	log.prune(now)

	count := int64(len(log.hits)) + 1
	if count <= int64(limit) {
		log.hits = append(log.hits, now)
	}
	if len(log.hits) == 0 {
		return count, now.Add(window), nil
	}
	return count, log.hits[0].Add(window), nil
}

// Len reports the number of tracked keys.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCounter) sweep(now time.Time) {
	for k, v := range c.items {
		v.prune(now)
		if len(v.hits) == 0 {
			delete(c.items, k)
		}
	}
}
