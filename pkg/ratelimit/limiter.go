package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends
	Wait(ctx context.Context) error
}

// RequestBudget caps the request rate across every scraper call
type RequestBudget struct {
	limiter *rate.Limiter
}

// NewRequestBudget creates a limiter allowing requestsPerMinute with the given burst.
// A non-positive rate disables limiting.
func NewRequestBudget(requestsPerMinute, burst int) *RequestBudget {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &RequestBudget{limiter: rate.NewLimiter(limit, burst)}
}

// Allow checks if a request can proceed now
func (b *RequestBudget) Allow() bool {
	return b.limiter.Allow()
}

// Wait blocks until a token is available
func (b *RequestBudget) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Pacer spaces consecutive requests by a random delay in [min, max].
// The first call never waits.
type Pacer struct {
	min, max time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewPacer creates a pacer with a jittered gap between calls
func NewPacer(min, max time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{min: min, max: max, now: time.Now}
}

// Allow reports whether a request could run without waiting, and records it if so
func (p *Pacer) Allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last.IsZero() || p.now().Sub(p.last) >= p.max {
		p.last = p.now()
		return true
	}
	return false
}

// Wait sleeps until the jittered gap since the previous request has passed
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay := time.Duration(0)
	if !p.last.IsZero() {
		delay = p.gap() - p.now().Sub(p.last)
	}
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
	return nil
}

// Reset forgets the previous request
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = time.Time{}
}

// gap picks a random delay in [min, max]
func (p *Pacer) gap() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + rand.N(p.max-p.min+1)
}

// Chain waits on every limiter in order
type Chain []Limiter

// Allow checks every limiter
func (c Chain) Allow() bool {
	for _, l := range c {
		if !l.Allow() {
			return false
		}
	}
	return true
}

// Wait blocks on every limiter in order
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
