package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newTestLimiter(opts ...Option) (*Limiter, *stepClock) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestCheck_LimitedAfterLimitPlusOne(t *testing.T) {
	l, clock := newTestLimiter(WithLimits(map[string]int{"find_records": 3}))

	for i := 1; i <= 3; i++ {
		d := l.Check("find_records", time.Minute)
		require.False(t, d.Limited, "call %d", i)
		require.Equal(t, i, d.Count)
		require.Equal(t, 3-i, d.Remaining)
		clock.now = clock.now.Add(10 * time.Second)
	}

	d := l.Check("find_records", time.Minute)
	require.True(t, d.Limited)
	require.Equal(t, 4, d.Count)
	require.Equal(t, 3, d.Limit)
	assert.Equal(t, 30*time.Second, d.WaitHint)
	assert.Equal(t, int64(30000), d.WaitMillis)
	assert.Equal(t, "Wait 30 seconds before next request", d.Recommendation)
}

func TestCheck_ResetsAfterWindow(t *testing.T) {
	l, clock := newTestLimiter(WithLimits(map[string]int{"op": 1}))

	require.False(t, l.Check("op", time.Minute).Limited)
	require.True(t, l.Check("op", time.Minute).Limited)

	clock.now = clock.now.Add(time.Minute)
	d := l.Check("op", time.Minute)
	require.False(t, d.Limited)
	require.Equal(t, 1, d.Count)
}

func TestCheck_OperationsCountedSeparately(t *testing.T) {
	l, _ := newTestLimiter(WithLimits(map[string]int{"a": 1}))

	require.False(t, l.Check("a", time.Minute).Limited)
	d := l.Check("b", time.Minute)
	require.False(t, d.Limited)
	require.Equal(t, 1, d.Count)
	require.Equal(t, DefaultLimit, d.Limit)
}

func TestCheck_WaitHintUsesOldestEventOfSameOperation(t *testing.T) {
	l, clock := newTestLimiter(WithLimits(map[string]int{"a": 1}))

	l.Check("b", time.Minute)
	clock.now = clock.now.Add(20 * time.Second)
	l.Check("a", time.Minute)
	clock.now = clock.now.Add(10 * time.Second)

	d := l.Check("a", time.Minute)
	require.True(t, d.Limited)
	require.Equal(t, 50*time.Second, d.WaitHint)
}

func TestLimitDefaults(t *testing.T) {
	l, _ := newTestLimiter(WithDefaultLimit(7))

	require.Equal(t, 50, l.Limit("create_record"))
	require.Equal(t, 100, l.Limit("find_records"))
	require.Equal(t, 7, l.Limit("anything_else"))
}

func TestCheck_UnconfiguredOperationsShareMetricSeries(t *testing.T) {
	l, _ := newTestLimiter(WithDefaultLimit(1000))
	l.Check("find_records", time.Minute)
	before := testutil.CollectAndCount(metrics.RateLimitChecks)

	for i := 0; i < 500; i++ {
		d := l.Check(fmt.Sprintf("caller-chosen-%d", i), time.Minute)
		require.Equal(t, fmt.Sprintf("caller-chosen-%d", i), d.Operation)
	}

	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.RateLimitChecks), before+1)
	assert.Positive(t, testutil.ToFloat64(metrics.RateLimitChecks.WithLabelValues("other", "allowed")))
}
