package fetchqueue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core"
	"github.com/vmetrics/vmetrics/internal/core/engine"
	"github.com/vmetrics/vmetrics/internal/observability"
)

// fakeClock is a virtual clock; Sleep advances it instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type upstreamCall struct {
	path   string
	at     time.Time
	header http.Header
}

type upstreamResponse struct {
	status int
	body   string
}

// fakeUpstream serves scripted responses per path and records call times
// on the fake clock.
type fakeUpstream struct {
	clock   *fakeClock
	server  *httptest.Server
	started chan string

	mu        sync.Mutex
	calls     []upstreamCall
	responses map[string][]upstreamResponse
	gates     map[string]chan struct{}
}

func newFakeUpstream(t *testing.T, clock *fakeClock) *fakeUpstream {
	t.Helper()

	up := &fakeUpstream{
		clock:     clock,
		started:   make(chan string, 32),
		responses: make(map[string][]upstreamResponse),
		gates:     make(map[string]chan struct{}),
	}
	up.server = httptest.NewServer(http.HandlerFunc(up.handle))
	t.Cleanup(up.server.Close)
	t.Cleanup(up.releaseAll)
	return up
}

func (u *fakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.calls = append(u.calls, upstreamCall{path: r.URL.Path, at: u.clock.Now(), header: r.Header.Clone()})
	gate := u.gates[r.URL.Path]
	resp := upstreamResponse{status: http.StatusOK, body: fmt.Sprintf(`{"path":%q}`, r.URL.Path)}
	if script := u.responses[r.URL.Path]; len(script) > 0 {
		resp = script[0]
		if len(script) > 1 {
			u.responses[r.URL.Path] = script[1:]
		}
	}
	u.mu.Unlock()

	select {
	case u.started <- r.URL.Path:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (u *fakeUpstream) script(path string, responses ...upstreamResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[path] = responses
}

func (u *fakeUpstream) gate(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gates[path] = make(chan struct{})
}

func (u *fakeUpstream) release(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gate, ok := u.gates[path]; ok {
		close(gate)
		delete(u.gates, path)
	}
}

func (u *fakeUpstream) releaseAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for path, gate := range u.gates {
		close(gate)
		delete(u.gates, path)
	}
}

func (u *fakeUpstream) waitStarted(t *testing.T, path string) {
	t.Helper()
	select {
	case got := <-u.started:
		require.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("upstream call for %s never started", path)
	}
}

func (u *fakeUpstream) Calls() []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upstreamCall(nil), u.calls...)
}

func (u *fakeUpstream) url(path string) string {
	return u.server.URL + path + "?api_key=secret-key"
}

func newTestQueue(t *testing.T, clock *fakeClock, cfg Config, opts ...Option) *Queue {
	t.Helper()
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 5 * time.Second
	}
	base := []Option{WithClock(clock.Now), WithSleep(clock.Sleep)}
	q := New(cfg, append(base, opts...)...)
	t.Cleanup(q.Close)
	return q
}

type fetchResult struct {
	body string
	err  error
}

func fetchAsync(ctx context.Context, q *Queue, rawURL string) <-chan fetchResult {
	out := make(chan fetchResult, 1)
	go func() {
		body, err := q.FetchThrottled(ctx, rawURL, nil)
		out <- fetchResult{body: string(body), err: err}
	}()
	return out
}

func await(t *testing.T, ch <-chan fetchResult) fetchResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete")
		return fetchResult{}
	}
}

func TestFetchThrottledSpacesConcurrentCalls(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	paths := []string{"/report/1", "/report/2", "/report/3", "/report/4"}
	var wg sync.WaitGroup
	errs := make(chan error, len(paths))
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			_, err := q.FetchThrottled(context.Background(), up.url(path), nil)
			errs <- err
		}(path)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	calls := up.Calls()
	require.Len(t, calls, len(paths))
	for i := 1; i < len(calls); i++ {
		gap := calls[i].at.Sub(calls[i-1].at)
		assert.GreaterOrEqual(t, gap, 5*time.Second, "calls %d and %d too close", i-1, i)
	}

	stats := q.Stats()
	assert.Equal(t, uint64(len(paths)), stats.UpstreamCalls)
	require.NotNil(t, stats.LastRequestAt)
	assert.Equal(t, calls[len(calls)-1].at, *stats.LastRequestAt)
}

// A, B, A issued back to back: A and B each hit upstream once, spaced by
// MinInterval, and the second A never reaches upstream.
func TestFetchThrottledRepeatedURLAmongOthers(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{TTL: time.Minute})

	up.gate("/a")
	first := fetchAsync(context.Background(), q, up.url("/a"))
	up.waitStarted(t, "/a")
	second := fetchAsync(context.Background(), q, up.url("/b"))
	third := fetchAsync(context.Background(), q, up.url("/a"))
	up.release("/a")

	resA, resB, resA2 := await(t, first), await(t, second), await(t, third)
	require.NoError(t, resA.err)
	require.NoError(t, resB.err)
	require.NoError(t, resA2.err)
	assert.JSONEq(t, resA.body, resA2.body)

	calls := up.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/a", calls[0].path)
	assert.Equal(t, "/b", calls[1].path)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), 5*time.Second)
}

func TestFetchThrottledServesFreshCache(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	first, err := q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	second, err := q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Len(t, up.Calls(), 1)
	assert.Equal(t, uint64(1), q.Stats().CacheHits)
}

func TestFetchThrottledRefetchesAfterTTL(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{TTL: 5 * time.Minute})

	_, err := q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)
	_, err = q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	assert.Len(t, up.Calls(), 2)
}

func TestFetchThrottledRetriesOnceAfter429(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report",
		upstreamResponse{status: http.StatusTooManyRequests, body: `{"error":"slow down"}`},
		upstreamResponse{status: http.StatusOK, body: `[{"clicks":1}]`},
	)
	q := newTestQueue(t, clock, Config{})

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"clicks":1}]`, string(body))

	calls := up.Calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), engine.DefaultCooldown)
	assert.Contains(t, clock.Sleeps(), engine.DefaultCooldown)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Retries)
	assert.Equal(t, uint64(0), stats.Degraded)
}

func TestFetchThrottledDegradesAfterSecond429(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report", upstreamResponse{status: http.StatusTooManyRequests})
	q := newTestQueue(t, clock, Config{})

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Len(t, up.Calls(), 2)
	assert.Equal(t, uint64(1), q.Stats().Degraded)

	// The degraded result is not cached.
	clock.Advance(time.Minute)
	_, err = q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.NoError(t, err)
	assert.Len(t, up.Calls(), 4)
}

func TestFetchThrottledStrictRateLimit(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report", upstreamResponse{status: http.StatusTooManyRequests})
	q := newTestQueue(t, clock, Config{StrictRateLimit: true})

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Nil(t, body)
	assert.Len(t, up.Calls(), 2)
}

func TestFetchThrottled429ThenServerError(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report",
		upstreamResponse{status: http.StatusTooManyRequests},
		upstreamResponse{status: http.StatusInternalServerError, body: `{"error":"boom"}`},
	)
	q := newTestQueue(t, clock, Config{})

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Len(t, up.Calls(), 2)
	assert.Equal(t, uint64(1), q.Stats().Degraded)
}

func TestFetchThrottled429ThenMalformedBodyStrict(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report",
		upstreamResponse{status: http.StatusTooManyRequests},
		upstreamResponse{status: http.StatusOK, body: `not json`},
	)
	q := newTestQueue(t, clock, Config{StrictRateLimit: true})

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Nil(t, body)
	assert.Len(t, up.Calls(), 2)
	assert.Equal(t, uint64(1), q.Stats().Degraded)
}

func TestFetchThrottledReportsServerError(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report", upstreamResponse{status: http.StatusInternalServerError, body: `{"error":"boom"}`})
	q := newTestQueue(t, clock, Config{})

	_, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
	assert.Equal(t, "boom", upstreamErr.Message)
	assert.False(t, upstreamErr.Malformed)
	assert.Contains(t, err.Error(), "500")
	assert.NotContains(t, err.Error(), "secret-key")

	// Failures are never retried.
	assert.Len(t, up.Calls(), 1)
	assert.Equal(t, uint64(1), q.Stats().Failures)
}

func TestFetchThrottledRejectsMalformedJSON(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	up.script("/report", upstreamResponse{status: http.StatusOK, body: `{"items": [`})
	q := newTestQueue(t, clock, Config{})

	_, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.True(t, upstreamErr.Malformed)

	// Nothing was cached.
	_, err = q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.Error(t, err)
	assert.Len(t, up.Calls(), 2)
}

func TestFetchThrottledTransportErrorIsRedacted(t *testing.T) {
	clock := newFakeClock()
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL + "/report?api_key=secret-key"
	server.Close()

	q := newTestQueue(t, clock, Config{})
	_, err := q.FetchThrottled(context.Background(), target, nil)

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, 0, upstreamErr.StatusCode)
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestFetchThrottledCoalescesDuplicateRequests(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	// A, B, A issued back to back: one call for A, one for B.
	up.gate("/a")
	first := fetchAsync(context.Background(), q, up.url("/a"))
	up.waitStarted(t, "/a")

	second := fetchAsync(context.Background(), q, up.url("/b"))
	require.Eventually(t, func() bool { return q.Stats().Depth == 1 }, 5*time.Second, time.Millisecond)

	third := fetchAsync(context.Background(), q, up.url("/a"))
	require.Eventually(t, func() bool { return q.Stats().Coalesced == 1 }, 5*time.Second, time.Millisecond)

	up.release("/a")

	resA := await(t, first)
	resB := await(t, second)
	resA2 := await(t, third)
	require.NoError(t, resA.err)
	require.NoError(t, resB.err)
	require.NoError(t, resA2.err)
	assert.JSONEq(t, resA.body, resA2.body)
	assert.JSONEq(t, `{"path":"/b"}`, resB.body)

	calls := up.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/a", calls[0].path)
	assert.Equal(t, "/b", calls[1].path)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), 5*time.Second)
}

func TestFetchThrottledCallerCancelDoesNotAbortRequest(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	up.gate("/report")
	ctx, cancel := context.WithCancel(context.Background())
	pending := fetchAsync(ctx, q, up.url("/report"))
	up.waitStarted(t, "/report")

	cancel()
	res := await(t, pending)
	require.ErrorIs(t, res.err, context.Canceled)

	up.release("/report")
	require.Eventually(t, func() bool {
		stats := q.Stats()
		return !stats.Draining && !stats.InFlight
	}, 5*time.Second, time.Millisecond)

	body, err := q.FetchThrottled(context.Background(), up.url("/report"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/report"}`, string(body))
	assert.Len(t, up.Calls(), 1)
}

func TestFetchThrottledForwardsHeaders(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	_, err := q.FetchThrottled(context.Background(), up.url("/campaigns"), map[string]string{"X-Request-ID": "req-1"})
	require.NoError(t, err)

	calls := up.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "req-1", calls[0].header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", calls[0].header.Get("Accept"))
}

func TestCloseFailsQueuedRequests(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	up.gate("/a")
	inFlight := fetchAsync(context.Background(), q, up.url("/a"))
	up.waitStarted(t, "/a")

	queued := fetchAsync(context.Background(), q, up.url("/b"))
	require.Eventually(t, func() bool { return q.Stats().Depth == 1 }, 5*time.Second, time.Millisecond)

	q.Close()

	require.ErrorIs(t, await(t, queued).err, ErrClosed)
	require.ErrorIs(t, await(t, inFlight).err, ErrClosed)

	_, err := q.FetchThrottled(context.Background(), up.url("/c"), nil)
	require.ErrorIs(t, err, ErrClosed)

	q.Close()
	assert.Len(t, up.Calls(), 1)
}

func TestFetchThrottledPersistsLimiterState(t *testing.T) {
	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	store := &recordingRateStore{}
	q := newTestQueue(t, clock, Config{Endpoint: "redtrack-test"}, WithLimiter(&engine.RateLimiter{Store: store}))

	_, err := q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	state, ok := store.get("redtrack-test")
	require.True(t, ok)
	assert.Equal(t, 1, state.RequestCount)
	assert.Equal(t, clock.Now(), state.LastRequestAt)
}

func TestFetchThrottledEmitsMetrics(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	clock := newFakeClock()
	up := newFakeUpstream(t, clock)
	q := newTestQueue(t, clock, Config{})

	_, err = q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)
	_, err = q.FetchThrottled(context.Background(), up.url("/campaigns"), nil)
	require.NoError(t, err)

	assert.Greater(t, collector.CountMetricsByName("upstream_requests_total"), 0)
	assert.Greater(t, collector.CountMetricsByName("upstream_cache_lookups_total"), 1)
}

func TestNilQueue(t *testing.T) {
	var q *Queue
	_, err := q.FetchThrottled(context.Background(), "http://example.invalid", nil)
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Stats{}, q.Stats())
	q.Close()
}

func TestUpstreamErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &UpstreamError{URL: "https://api.example/report", Message: "request failed", Err: cause}
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream https://api.example/report: request failed: connection reset", err.Error())
}

type recordingRateStore struct {
	mu     sync.Mutex
	states map[string]core.RateLimitState
}

func (r *recordingRateStore) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string]core.RateLimitState)
	}
	r.states[endpoint] = *state
	return nil
}

func (r *recordingRateStore) get(endpoint string) (core.RateLimitState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[endpoint]
	return state, ok
}

func TestConfigFrom(t *testing.T) {
	assert.Equal(t, Config{}, ConfigFrom(nil))

	cfg := &config.Config{}
	cfg.Upstream.MinInterval = 2 * time.Second
	cfg.Upstream.RateLimitCooldown = 7 * time.Second
	cfg.Upstream.StrictRateLimit = true
	cfg.Cache.TTL = time.Minute

	got := ConfigFrom(cfg)
	assert.Equal(t, 2*time.Second, got.MinInterval)
	assert.Equal(t, 7*time.Second, got.Cooldown)
	assert.Equal(t, time.Minute, got.TTL)
	assert.True(t, got.StrictRateLimit)
	assert.Equal(t, DefaultEndpoint, got.Endpoint)
}
