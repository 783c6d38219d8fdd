// Package ratelimit limits uploads per client address.
//
// The limiter is in memory and local to one instance. It keeps a single
// address from filling the scratch disk or burning CPU on decompression. It
// does not help against distributed floods, and the request has already
// been accepted by the kernel by the time it runs.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/archive-ingest/internal/httpmw"
)

const (
	defaultPerSecond   = 10
	defaultBurst       = 30
	defaultTTL         = 5 * time.Minute
	defaultMaxVisitors = 100_000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so the hook logs once per
	// visitor lifetime
	reported bool
}

// IPLimiter holds one token bucket per client address and evicts idle ones.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	full     bool // OnCapacity already fired for the current saturation

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int
	now         func() time.Time

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate allows burst requests at once, refilled at perSecond.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle address is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxVisitors caps the tracked addresses. Unknown addresses are denied
// while the cap is reached. 0 disables the cap.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

// WithOnFirstDenied runs once per visitor on its first denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every denial.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithOnCapacity runs when the visitor table fills up. It fires again only
// after eviction has made room.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

// New returns a limiter whose eviction loop stops when ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   defaultPerSecond,
		burst:       defaultBurst,
		ttl:         defaultTTL,
		maxVisitors: defaultMaxVisitors,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// decision is computed under the lock, hooks run after it is released.
type decision struct {
	allowed   bool
	first     bool
	saturated bool
}

func (l *IPLimiter) decide(ip string) decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			d := decision{saturated: !l.full}
			l.full = true
			return d
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}

	now := l.now()
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return decision{allowed: true}
	}
	d := decision{first: !v.reported}
	v.reported = true
	return d
}

// Allow reports whether ip may make another request now.
func (l *IPLimiter) Allow(ip string) bool {
	d := l.decide(ip)
	if d.allowed {
		return true
	}
	if d.saturated && l.onCapacity != nil {
		l.onCapacity()
	}
	if d.first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// evict drops visitors idle for longer than the TTL and re-arms the
// capacity hook once there is room again.
func (l *IPLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
	if l.maxVisitors == 0 || len(l.visitors) < l.maxVisitors {
		l.full = false
	}
}

// retryAfter is the time for one token to refill, rounded up to seconds.
func (l *IPLimiter) retryAfter() string {
	if l.perSecond <= 0 || l.perSecond == rate.Inf {
		return "60"
	}
	secs := math.Ceil(1 / float64(l.perSecond))
	return strconv.Itoa(int(max(secs, 1)))
}

const tooManyRequestsBody = `{"status":429,"error":"Too Many Requests","message":"too many requests, slow down","reason":"rate_limited"}`

// Middleware answers 429 when the resolved client address is over its
// limit. Health probes are never limited.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := l.retryAfter()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpmw.IsHealthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			h := w.Header()
			h.Set("Content-Type", "application/json; charset=utf-8")
			h.Set("Retry-After", retryAfter)
			h.Set("Connection", "close")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(tooManyRequestsBody))
			return
		}
		next.ServeHTTP(w, r)
	})
}
