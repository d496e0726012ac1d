// Package ratelimit implements an advisory sliding-window request counter.
// It never blocks; callers decide what to do with a Decision.
package ratelimit

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const (
	// DefaultLimit applies to operations without a configured limit.
	DefaultLimit = 100
	// DefaultWindow is used when Check is given a non-positive window.
	DefaultWindow = time.Minute

	otherOperation = "other"
)

// DefaultLimits returns the per-operation limits used when none are configured.
func DefaultLimits() map[string]int {
	return map[string]int{
		"find_records":  100,
		"create_record": 50,
		"update_record": 50,
		"delete_record": 50,
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	Operation      string        `json:"operation"`
	Limited        bool          `json:"rateLimited"`
	Count          int           `json:"requestCount"`
	Limit          int           `json:"limit"`
	Remaining      int           `json:"remainingRequests"`
	WaitHint       time.Duration `json:"-"`
	WaitMillis     int64         `json:"waitTime,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
}

type event struct {
	op string
	at time.Time
}

// Limiter keeps one event log shared by every operation name.
type Limiter struct {
	mu           sync.Mutex
	events       []event
	limits       map[string]int
	defaultLimit int
	now          func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits overrides per-operation limits. Entries are merged over the
// defaults.
func WithLimits(limits map[string]int) Option {
	return func(l *Limiter) {
		for op, n := range limits {
			if op = strings.TrimSpace(op); op != "" && n > 0 {
				l.limits[op] = n
			}
		}
	}
}

// WithDefaultLimit sets the limit for unconfigured operations.
func WithDefaultLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.defaultLimit = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter seeded with DefaultLimits.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limits:       DefaultLimits(),
		defaultLimit: DefaultLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured limit for op.
func (l *Limiter) Limit(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitFor(op)
}

func (l *Limiter) limitFor(op string) int {
	if n, ok := l.limits[op]; ok {
		return n
	}
	return l.defaultLimit
}

// Check records one request for op and reports whether op exceeded its limit
// within window.
func (l *Limiter) Check(op string, window time.Duration) Decision {
	if window <= 0 {
		window = DefaultWindow
	}
	op = strings.TrimSpace(op)

	l.mu.Lock()
	now := l.now()
	cutoff := now.Add(-window)
	kept := l.events[:0]
	for _, ev := range l.events {
		if ev.at.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	l.events = append(kept, event{op: op, at: now})

	count := 0
	var oldest time.Time
	for _, ev := range l.events {
		if ev.op != op {
			continue
		}
		if count == 0 {
			oldest = ev.at
		}
		count++
	}
	limit := l.limitFor(op)
	label := l.metricLabel(op)
	l.mu.Unlock()

	d := Decision{Operation: op, Count: count, Limit: limit}
	if count > limit {
		d.Limited = true
		d.WaitHint = max(window-now.Sub(oldest), 0)
		d.WaitMillis = d.WaitHint.Milliseconds()
		d.Recommendation = fmt.Sprintf("Wait %d seconds before next request", int(math.Ceil(d.WaitHint.Seconds())))
	} else {
		d.Remaining = limit - count
	}
	metrics.ObserveRateLimit(label, d.Limited)
	return d
}

// metricLabel keeps the operation label bounded to configured names.
func (l *Limiter) metricLabel(op string) string {
	if _, ok := l.limits[op]; ok {
		return op
	}
	return otherOperation
}
