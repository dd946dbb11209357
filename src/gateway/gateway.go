package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"upbit-observer/src/backoff"
	"upbit-observer/src/helpers"
	"upbit-observer/src/logger"
	"upbit-observer/src/models"

	json "github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// Request Gateway
//
// All outbound REST calls go through here. The gateway signs each request,
// classifies it into a rate-limit group, throttles against both the local
// sliding-window budget and live server feedback, retries transient failures
// with backoff, and optionally serves short-TTL cached responses.
// -----------------------------------------------------------------------------

const remainingReqHeader = "Remaining-Req"

// -----------------------------------------------------------------------------

// Response is the typed result of a gateway call.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// -----------------------------------------------------------------------------

// JSON unmarshals the response body into out.
func (r Response) JSON(out interface{}) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return helpers.NewDecodeError("failed to decode response body", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// RequestOptions carries the optional parts of a call.
type RequestOptions struct {
	Query    map[string]string
	Body     map[string]string
	CacheTTL time.Duration

	// Group overrides path-pattern classification when set.
	Group string
}

// -----------------------------------------------------------------------------

type Gateway struct {
	Config *models.MConfig
	Logger *logger.Logger
	Client *http.Client

	signer *Signer
	rng    *rand.Rand

	mu            sync.Mutex
	groups        map[string]*groupState
	cache         *responseCache
	lastSuccess   time.Time
	lastFailure   time.Time
	failureStreak int
}

// -----------------------------------------------------------------------------

func NewGateway(cfg *models.MConfig, log *logger.Logger) *Gateway {
	g := &Gateway{
		Config: cfg,
		Logger: log,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Exchange.RequestTimeout) * time.Second,
		},
		signer: &Signer{
			AccessKey: cfg.Exchange.AccessKey,
			SecretKey: cfg.Exchange.SecretKey,
		},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		groups: make(map[string]*groupState),
		cache:  newResponseCache(cfg.Limits.CacheCapacity),
	}

	for _, gc := range cfg.Limits.Groups {
		g.groups[gc.Name] = newGroupState(gc)
	}
	return g
}

// -----------------------------------------------------------------------------

// Request performs one signed REST call. Transient failures (transport
// errors, 429, 5xx) are retried up to the configured bound; a server-provided
// Retry-After takes precedence over computed backoff. Non-retryable 4xx are
// surfaced immediately. All failures come back as typed errors, never panics.
func (g *Gateway) Request(ctx context.Context, method, path string, opts RequestOptions) (Response, error) {
	cacheKey := method + " " + path + "?" + StableQueryString(opts.Query)

	if opts.CacheTTL > 0 {
		g.mu.Lock()
		cached, ok := g.cache.get(cacheKey, time.Now())
		g.mu.Unlock()
		if ok {
			g.Logger.Debug("Cache hit for %s", cacheKey)
			return cached, nil
		}
	}

	group := g.classify(path, opts.Group)

	var (
		lastErr    error
		lastStatus int
		retryAfter time.Duration
	)

	maxAttempts := g.Config.Exchange.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.retryDelay(attempt-1, retryAfter)
			g.Logger.Info("Retrying %s %s in %v (attempt %d/%d)", method, path, delay, attempt+1, maxAttempts)
			if err := sleepCtx(ctx, delay); err != nil {
				return Response{}, helpers.NewNetworkError("request cancelled during retry wait", 0, err)
			}
			retryAfter = 0
		}

		if err := g.throttleWait(ctx, group); err != nil {
			return Response{}, helpers.NewNetworkError("request cancelled during throttle wait", 0, err)
		}

		resp, err := g.execute(ctx, method, path, opts)
		if err != nil {
			g.recordFailure()
			lastErr = err
			lastStatus = 0
			g.Logger.Warning("Transport error for %s %s: %v", method, path, err)
			continue
		}

		g.applyServerFeedback(group, resp.Header)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			g.recordSuccess()
			if opts.CacheTTL > 0 {
				g.mu.Lock()
				g.cache.put(cacheKey, resp, opts.CacheTTL, time.Now())
				g.mu.Unlock()
			}
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			g.recordFailure()
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			retryAfter = parseRetryAfter(resp.Header)

		case resp.StatusCode >= 500:
			g.recordFailure()
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)

		default:
			// Non-retryable client error: surface immediately.
			return Response{}, helpers.NewNetworkError(
				fmt.Sprintf("%s %s failed", method, path), resp.StatusCode, nil)
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return Response{}, helpers.NewRateLimitError(group.name, lastErr)
	}
	return Response{}, helpers.NewNetworkError(
		fmt.Sprintf("%s %s failed after %d attempts", method, path, maxAttempts), lastStatus, lastErr)
}

// -----------------------------------------------------------------------------

// Get is the plain body-bytes variant of Request used by callers that only
// need a throttled GET.
func (g *Gateway) Get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	resp, err := g.Request(ctx, http.MethodGet, path, RequestOptions{Query: query})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// -----------------------------------------------------------------------------

// DebugInfo returns an observability snapshot of every rate-limit group.
func (g *Gateway) DebugInfo() []models.MRateLimitDebug {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	infos := make([]models.MRateLimitDebug, 0, len(g.groups))
	for _, gc := range g.Config.Limits.Groups {
		if gs, ok := g.groups[gc.Name]; ok {
			infos = append(infos, gs.debug(now))
		}
	}
	return infos
}

// -----------------------------------------------------------------------------

// classify resolves the rate-limit group for a path. An explicit override
// wins; otherwise the longest configured path prefix matches; otherwise the
// default group.
func (g *Gateway) classify(path, override string) *groupState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if override != "" {
		if gs, ok := g.groups[override]; ok {
			return gs
		}
		g.Logger.Warning("Unknown rate limit group override %q, falling back to pattern match", override)
	}

	var (
		best    *groupState
		bestLen = -1
	)
	for _, gc := range g.Config.Limits.Groups {
		for _, prefix := range gc.PathPrefixes {
			if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
				best = g.groups[gc.Name]
				bestLen = len(prefix)
			}
		}
	}
	if best != nil {
		return best
	}

	if gs, ok := g.groups[g.Config.Limits.DefaultGroup]; ok {
		return gs
	}
	// Validation guarantees at least one configured group.
	return g.groups[g.Config.Limits.Groups[0].Name]
}

// -----------------------------------------------------------------------------

// throttleWait blocks until the group permits sending, then records the call.
// The wait is cancellable through the context.
func (g *Gateway) throttleWait(ctx context.Context, gs *groupState) error {
	for {
		g.mu.Lock()
		wait := gs.waitTime(time.Now(), g.Config.Limits.LowWaterMark)
		if wait <= 0 {
			gs.record(time.Now())
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		g.Logger.Debug("Throttling group %s for %v", gs.name, wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// -----------------------------------------------------------------------------

// execute performs the actual HTTP exchange for one attempt.
func (g *Gateway) execute(ctx context.Context, method, path string, opts RequestOptions) (Response, error) {
	queryString := StableQueryString(opts.Query)

	reqURL := g.Config.Exchange.RestURL + path
	if queryString != "" {
		reqURL += "?" + queryString
	}

	// The signature hash covers the stable serialization of query parameters
	// and body fields combined.
	hashInput := queryString
	if len(opts.Body) > 0 {
		merged := make(map[string]string, len(opts.Query)+len(opts.Body))
		for k, v := range opts.Query {
			merged[k] = v
		}
		for k, v := range opts.Body {
			merged[k] = v
		}
		hashInput = StableQueryString(merged)
	}

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyJSON, err := json.Marshal(opts.Body)
		if err != nil {
			return Response{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return Response{}, err
	}

	token, err := g.signer.BearerToken(hashInput)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := g.Client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, err
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Header:     httpResp.Header,
	}, nil
}

// -----------------------------------------------------------------------------

// applyServerFeedback parses the Remaining-Req header and tightens the named
// group's budget. The header names its own group; when that group is unknown
// the feedback applies to the group the call was classified into.
func (g *Gateway) applyServerFeedback(called *groupState, header http.Header) {
	quota, ok := ParseRemainingQuota(header.Get(remainingReqHeader), time.Now())
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	target := called
	if gs, known := g.groups[quota.Group]; known {
		target = gs
	}
	target.applyFeedback(quota, g.Config.Limits.SafetyFactor)
}

// -----------------------------------------------------------------------------

// retryDelay computes the wait before the next attempt. A server-provided
// Retry-After takes precedence over computed backoff.
func (g *Gateway) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}

	g.mu.Lock()
	streak := g.failureStreak
	quality := g.linkQualityLocked(time.Now())
	jitter := g.rng.Float64()*2 - 1
	g.mu.Unlock()

	base := time.Duration(g.Config.Backoff.BaseDelayMs) * time.Millisecond
	ceiling := time.Duration(g.Config.Backoff.MaxDelayMs) * time.Millisecond
	return backoff.ComputeDelay(attempt, base, ceiling, quality, streak, jitter)
}

// -----------------------------------------------------------------------------

// linkQualityLocked derives a coarse link-quality signal from how recently a
// call succeeded. Caller holds g.mu.
func (g *Gateway) linkQualityLocked(now time.Time) models.LinkQuality {
	if g.lastSuccess.IsZero() {
		return models.LinkNone
	}
	since := now.Sub(g.lastSuccess)
	switch {
	case since < 30*time.Second:
		return models.LinkFast
	case since < 5*time.Minute:
		return models.LinkSlow
	default:
		return models.LinkNone
	}
}

// -----------------------------------------------------------------------------

func (g *Gateway) recordSuccess() {
	g.mu.Lock()
	g.lastSuccess = time.Now()
	g.failureStreak = 0
	g.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (g *Gateway) recordFailure() {
	cooldown := backoff.StreakCooldown
	if s := g.Config.Backoff.CooldownSeconds; s > 0 {
		cooldown = time.Duration(s) * time.Second
	}

	g.mu.Lock()
	now := time.Now()
	if !g.lastFailure.IsZero() && now.Sub(g.lastFailure) > cooldown {
		g.failureStreak = 0
	}
	g.failureStreak++
	g.lastFailure = now
	g.mu.Unlock()
}

// -----------------------------------------------------------------------------

// parseRetryAfter reads the Retry-After response header (delay-seconds form).
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// -----------------------------------------------------------------------------

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
