package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-observer/src/helpers"
	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func testConfig(restURL string) *models.MConfig {
	return &models.MConfig{
		Name:     "test",
		LogLevel: "ERROR",
		Exchange: models.MExchangeConfig{
			RestURL:        restURL,
			AccessKey:      "test-access",
			SecretKey:      "test-secret",
			RequestTimeout: 5,
			MaxRetries:     3,
		},
		Limits: models.MRateLimitConfig{
			SafetyFactor:  0.9,
			LowWaterMark:  5,
			CacheCapacity: 16,
			DefaultGroup:  "public",
			Groups: []models.MRateLimitGroup{
				{Name: "public", MaxPerPeriod: 100, PeriodSeconds: 1, PathPrefixes: []string{"/v1/market", "/v1/ticker"}},
				{Name: "order", MaxPerPeriod: 8, PeriodSeconds: 1, PathPrefixes: []string{"/v1/orders"}},
			},
		},
		Backoff: models.MBackoffConfig{BaseDelayMs: 1, MaxDelayMs: 20, CooldownSeconds: 300},
	}
}

func newTestGateway(restURL string) *Gateway {
	cfg := testConfig(restURL)
	return NewGateway(cfg, logger.NewLogger(cfg.LogLevel, "GatewayTest"))
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

func TestClassifyByPathPrefix(t *testing.T) {
	g := newTestGateway("http://unused")

	assert.Equal(t, "public", g.classify("/v1/market/all", "").name)
	assert.Equal(t, "order", g.classify("/v1/orders/open", "").name)
	// Unmatched paths fall back to the default group.
	assert.Equal(t, "public", g.classify("/v1/accounts", "").name)
	// Explicit override wins over the pattern match.
	assert.Equal(t, "order", g.classify("/v1/market/all", "order").name)
}

// -----------------------------------------------------------------------------
// Retry Behavior
// -----------------------------------------------------------------------------

func TestRequestRetriesTransientServerErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	resp, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

// -----------------------------------------------------------------------------

func TestRequestSurfacesNonRetryableErrorsImmediately(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})

	var netErr *helpers.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Equal(t, 1, calls)
}

// -----------------------------------------------------------------------------

func TestRequestExhaustedRateLimitReturnsTypedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})

	var rlErr *helpers.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "public", rlErr.Group)
}

// -----------------------------------------------------------------------------

func TestRequestHonorsRetryAfterHeader(t *testing.T) {
	var times []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		times = append(times, time.Now())
		if len(times) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 900*time.Millisecond)
}

// -----------------------------------------------------------------------------
// Throttling
// -----------------------------------------------------------------------------

func TestLocalSlidingWindowNeverExceedsCeiling(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Limits.Groups[0].MaxPerPeriod = 3
	g := NewGateway(cfg, logger.NewLogger("ERROR", "GatewayTest"))

	for i := 0; i < 7; i++ {
		_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})
		require.NoError(t, err)
	}

	period := time.Second
	for i := range stamps {
		count := 1
		for j := i + 1; j < len(stamps); j++ {
			if stamps[j].Sub(stamps[i]) < period {
				count++
			}
		}
		assert.LessOrEqual(t, count, 3, "window starting at call %d", i)
	}
}

// -----------------------------------------------------------------------------

func TestServerLowWaterFeedbackForcesWindowWait(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.Header().Set(remainingReqHeader, "group=order; min=2; sec=1")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	// First call installs the server feedback for group "order".
	_, err := g.Request(context.Background(), http.MethodGet, "/v1/orders", RequestOptions{})
	require.NoError(t, err)

	// Second call must wait out the 1-second server window despite the
	// local budget having plenty of headroom.
	_, err = g.Request(context.Background(), http.MethodGet, "/v1/orders", RequestOptions{})
	require.NoError(t, err)

	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 900*time.Millisecond)
}

// -----------------------------------------------------------------------------

func TestServerFeedbackTightensButNeverRaisesCeiling(t *testing.T) {
	gs := newGroupState(models.MRateLimitGroup{Name: "order", MaxPerPeriod: 8, PeriodSeconds: 1})

	now := time.Now()
	gs.applyFeedback(models.MRemainingQuota{Group: "order", Remaining: 4, Window: time.Second, At: now}, 0.9)
	assert.Equal(t, 3, gs.effective)

	// Looser feedback later never relaxes the ceiling within a session.
	gs.applyFeedback(models.MRemainingQuota{Group: "order", Remaining: 100, Window: time.Second, At: now}, 0.9)
	assert.Equal(t, 3, gs.effective)

	// Ceiling never drops below one call per period.
	gs.applyFeedback(models.MRemainingQuota{Group: "order", Remaining: 0, Window: time.Second, At: now}, 0.9)
	assert.Equal(t, 1, gs.effective)
}

// -----------------------------------------------------------------------------
// Caching
// -----------------------------------------------------------------------------

func TestCachedRequestHitsTransportOnce(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"price": 1}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	// Same call with the query map in a different insertion order: the
	// stable key serialization must make them identical.
	_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker",
		RequestOptions{Query: map[string]string{"markets": "KRW-BTC", "level": "1"}, CacheTTL: time.Minute})
	require.NoError(t, err)

	_, err = g.Request(context.Background(), http.MethodGet, "/v1/ticker",
		RequestOptions{Query: map[string]string{"level": "1", "markets": "KRW-BTC"}, CacheTTL: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

// -----------------------------------------------------------------------------

func TestCacheEvictsLeastRecentlyInserted(t *testing.T) {
	c := newResponseCache(2)
	now := time.Now()

	c.put("a", Response{StatusCode: 200}, time.Minute, now)
	c.put("b", Response{StatusCode: 200}, time.Minute, now)
	c.put("c", Response{StatusCode: 200}, time.Minute, now)

	_, okA := c.get("a", now)
	_, okB := c.get("b", now)
	_, okC := c.get("c", now)

	assert.False(t, okA)
	assert.True(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, c.size())
}

// -----------------------------------------------------------------------------

func TestCacheExpiry(t *testing.T) {
	c := newResponseCache(4)
	now := time.Now()

	c.put("a", Response{StatusCode: 200}, 100*time.Millisecond, now)

	_, ok := c.get("a", now.Add(50*time.Millisecond))
	assert.True(t, ok)
	_, ok = c.get("a", now.Add(200*time.Millisecond))
	assert.False(t, ok)
}

// -----------------------------------------------------------------------------
// Cancellation
// -----------------------------------------------------------------------------

func TestRequestCancelledDuringThrottleWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Limits.Groups[0].MaxPerPeriod = 1
	cfg.Limits.Groups[0].PeriodSeconds = 30
	g := NewGateway(cfg, logger.NewLogger("ERROR", "GatewayTest"))

	_, err := g.Request(context.Background(), http.MethodGet, "/v1/ticker", RequestOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = g.Request(ctx, http.MethodGet, "/v1/ticker", RequestOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// -----------------------------------------------------------------------------
// Failure Streak
// -----------------------------------------------------------------------------

func TestFailureStreakResetsAfterConfiguredCooldown(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Backoff.CooldownSeconds = 1
	g := NewGateway(cfg, logger.NewLogger("ERROR", "GatewayTest"))

	g.recordFailure()
	g.recordFailure()
	g.mu.Lock()
	streak := g.failureStreak
	g.mu.Unlock()
	require.Equal(t, 2, streak)

	// Age the last failure past the one-second cooldown; the next failure
	// starts a fresh streak instead of extending the old one.
	g.mu.Lock()
	g.lastFailure = time.Now().Add(-2 * time.Second)
	g.mu.Unlock()

	g.recordFailure()
	g.mu.Lock()
	streak = g.failureStreak
	g.mu.Unlock()
	assert.Equal(t, 1, streak)
}
