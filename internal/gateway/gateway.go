// Package gateway centralizes all outbound rate-limited traffic to the
// Polymarket CLOB, Gamma, and data-api hosts behind a single execute()
// entry point. It replaces per-client ad-hoc token buckets with four
// independently-refilling categories matching the venue's published
// rate-limit tiers, adds FIFO queueing per category, and retries
// rate-limited/challenged requests with exponential backoff.
//
// The token-bucket primitive (continuous refill, context-aware Wait) is the
// same one the exchange client used directly before this package existed;
// Gateway wraps it with retry/backoff/counter bookkeeping so every caller
// gets the same policy instead of reimplementing it per request site.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"sporthedge/pkg/types"
)

// Category identifies one of the four independently rate-limited request
// classes the Polymarket venue enforces.
type Category string

const (
	ClobGeneral    Category = "clob-general"
	ClobMarketData Category = "clob-market-data"
	Gamma          Category = "gamma"
	DataAPI        Category = "data-api"
)

// limitSpec is the refill configuration for one category: capacity tokens
// refilling over window, with a minimum spacing floor between requests.
type limitSpec struct {
	capacity   float64
	window     time.Duration
	minSpacing time.Duration
}

var defaultLimits = map[Category]limitSpec{
	ClobGeneral:    {capacity: 7200, window: 10 * time.Second, minSpacing: 2 * time.Millisecond},
	ClobMarketData: {capacity: 1200, window: 10 * time.Second, minSpacing: 9 * time.Millisecond},
	Gamma:          {capacity: 240, window: 10 * time.Second, minSpacing: 42 * time.Millisecond},
	DataAPI:        {capacity: 120, window: 10 * time.Second, minSpacing: 84 * time.Millisecond},
}

// bucket is a continuously-refilling token bucket scoped to one category,
// with a FIFO mutex acting as the queue: Wait() blocks callers in call order.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time

	minSpacing time.Duration
	lastGrant  time.Time

	queueMu sync.Mutex // FIFO ordering: acquired before mu, released after grant

	counters Counters
}

func newBucket(spec limitSpec) *bucket {
	return &bucket{
		tokens:     spec.capacity,
		capacity:   spec.capacity,
		rate:       spec.capacity / spec.window.Seconds(),
		lastTime:   time.Now(),
		minSpacing: spec.minSpacing,
	}
}

// Wait blocks until a token is available and the minimum inter-request
// spacing for this category has elapsed, then consumes one token.
func (b *bucket) Wait(ctx context.Context) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	b.counters.addQueued(1)
	defer b.counters.addQueued(-1)

	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastTime).Seconds()
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastTime = now

		sinceLastGrant := now.Sub(b.lastGrant)
		spacingOK := b.lastGrant.IsZero() || sinceLastGrant >= b.minSpacing

		if b.tokens >= 1 && spacingOK {
			b.tokens--
			b.lastGrant = now
			b.counters.addRequests(1)
			b.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if b.tokens < 1 {
			needed := (1 - b.tokens) / b.rate
			wait = time.Duration(needed * float64(time.Second))
		}
		if !spacingOK {
			spacingWait := b.minSpacing - sinceLastGrant
			if spacingWait > wait {
				wait = spacingWait
			}
		}
		b.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// approachingLimit reports whether the bucket is at or below 20% of
// capacity remaining (i.e. 80% of the window has been consumed).
func (b *bucket) approachingLimit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens <= b.capacity*0.2
}

// Counters tracks per-category request accounting for observability.
type Counters struct {
	mu          sync.Mutex
	Requests    int64
	RateLimited int64
	Retries     int64
	QueueLength int64
}

func (c *Counters) addRequests(n int64)  { c.mu.Lock(); c.Requests += n; c.mu.Unlock() }
func (c *Counters) addRateLimited(n int64) { c.mu.Lock(); c.RateLimited += n; c.mu.Unlock() }
func (c *Counters) addRetries(n int64)    { c.mu.Lock(); c.Retries += n; c.mu.Unlock() }
func (c *Counters) addQueued(n int64)     { c.mu.Lock(); c.QueueLength += n; c.mu.Unlock() }

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{Requests: c.Requests, RateLimited: c.RateLimited, Retries: c.Retries, QueueLength: c.QueueLength}
}

// Gateway is the single choke point for all outbound Polymarket HTTP
// traffic. Callers never talk to resty directly for rate-limited requests;
// they call Execute with the appropriate Category.
type Gateway struct {
	buckets map[Category]*bucket
	logger  *slog.Logger

	baseBackoff time.Duration
	maxRetries  int
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithBaseBackoff overrides the default 250ms base backoff.
func WithBaseBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.baseBackoff = d }
}

// WithMaxRetries overrides the default retry ceiling of 5.
func WithMaxRetries(n int) Option {
	return func(g *Gateway) { g.maxRetries = n }
}

// New creates a Gateway with the venue's published default limits.
func New(logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		buckets:     make(map[Category]*bucket, len(defaultLimits)),
		logger:      logger.With("component", "gateway"),
		baseBackoff: 250 * time.Millisecond,
		maxRetries:  5,
	}
	for cat, spec := range defaultLimits {
		g.buckets[cat] = newBucket(spec)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ApproachingLimit reports whether the given category is within 20% of
// running out of budget for the current window.
func (g *Gateway) ApproachingLimit(cat Category) bool {
	b, ok := g.buckets[cat]
	if !ok {
		return false
	}
	return b.approachingLimit()
}

// Counters returns a snapshot of per-category request accounting.
func (g *Gateway) Counters(cat Category) Counters {
	b, ok := g.buckets[cat]
	if !ok {
		return Counters{}
	}
	return b.counters.Snapshot()
}

// isRateLimitSignal inspects an error for markers that indicate the venue
// itself rejected the request for rate-limiting or bot-challenge reasons,
// as distinct from a genuine network or application error.
func isRateLimitSignal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "1015") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "challenge")
}

// Execute runs fn under the named category's rate limit, retrying with
// exponential backoff (baseBackoff * 2^attempt) up to maxRetries when fn's
// error looks like a rate-limit or challenge response. description is used
// only for logging.
func (g *Gateway) Execute(ctx context.Context, cat Category, description string, fn func() error) error {
	b, ok := g.buckets[cat]
	if !ok {
		return errors.New("gateway: unknown category " + string(cat))
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := b.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRateLimitSignal(lastErr) {
			return lastErr
		}

		b.counters.addRateLimited(1)
		if attempt == g.maxRetries {
			break
		}
		b.counters.addRetries(1)

		backoff := time.Duration(float64(g.baseBackoff) * math.Pow(2, float64(attempt)))
		g.logger.Warn("rate limited, backing off",
			"category", cat, "description", description, "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return types.NewTradingError(types.ErrRateLimited, lastErr)
}
