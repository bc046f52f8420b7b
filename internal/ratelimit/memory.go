package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Memory is a per-process token bucket limiter. A full bucket holds limit
// tokens and refills at limit per window.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idle    time.Duration
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*bucket), idle: 3 * time.Minute}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	every := rate.Every(window / time.Duration(limit))

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(every, limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	res := Result{Limit: limit}
	if b.lim.AllowN(now, 1) {
		res.Allowed = true
		res.Remaining = int(math.Floor(b.lim.TokensAt(now)))
		if res.Remaining < 0 {
			res.Remaining = 0
		}
		missing := float64(limit) - b.lim.TokensAt(now)
		res.Reset = now.Add(time.Duration(missing * float64(window) / float64(limit)))
		return res, nil
	}

	r := b.lim.ReserveN(now, 1)
	res.RetryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	if res.RetryAfter < time.Second {
		res.RetryAfter = time.Second
	}
	res.Reset = now.Add(res.RetryAfter)
	return res, nil
}

// Sweep drops buckets unused for longer than the idle period.
func (m *Memory) Sweep() {
	cutoff := time.Now().Add(-m.idle)
	m.mu.Lock()
	for k, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, k)
		}
	}
	m.mu.Unlock()
}

// Run sweeps idle buckets every minute until ctx is done.
func (m *Memory) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
