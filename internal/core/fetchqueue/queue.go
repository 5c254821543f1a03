// Package fetchqueue serializes calls to a rate-limited upstream HTTP API.
//
// Requests are served from the response cache when possible. Misses are queued
// FIFO and issued one at a time by a single drain goroutine that keeps at least
// MinInterval between the start of consecutive calls. An HTTP 429 triggers one
// retry after a cooldown; a second 429 yields an empty JSON array, or
// ErrRateLimited in strict mode.
package fetchqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core"
	"github.com/vmetrics/vmetrics/internal/core/cache"
	"github.com/vmetrics/vmetrics/internal/core/engine"
	"github.com/vmetrics/vmetrics/internal/httpclient"
	"github.com/vmetrics/vmetrics/internal/metrics"
)

// DefaultEndpoint is the limiter and metrics label used when none is configured.
const DefaultEndpoint = "redtrack"

const (
	maxBodyBytes    = 32 << 20
	maxErrorMessage = 256
)

// EmptyResult is delivered when the upstream stays rate limited after the retry.
var EmptyResult = json.RawMessage("[]")

// Config controls spacing, retry and caching behavior.
type Config struct {
	// MinInterval is the minimum time between the start of two outbound calls.
	MinInterval time.Duration

	// Cooldown is how long the drain loop pauses after a 429 before retrying.
	Cooldown time.Duration

	// TTL is how long a successful response may be served from the cache.
	TTL time.Duration

	// StrictRateLimit returns ErrRateLimited instead of EmptyResult.
	StrictRateLimit bool

	// Endpoint names the upstream in limiter state and metrics.
	Endpoint string
}

// ConfigFrom derives a queue Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		MinInterval:     cfg.Upstream.MinInterval,
		Cooldown:        cfg.Upstream.RateLimitCooldown,
		TTL:             cache.TTL(cfg.Cache),
		StrictRateLimit: cfg.Upstream.StrictRateLimit,
		Endpoint:        DefaultEndpoint,
	}
}

// Option customizes a Queue.
type Option func(*Queue)

// WithCache sets the response cache. The default is an in-process cache.
func WithCache(c cache.Cache) Option {
	return func(q *Queue) { q.cache = c }
}

// WithHTTPClient sets the client used for outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(q *Queue) { q.client = client }
}

// WithLimiter sets the spacing limiter, e.g. one backed by the store.
func WithLimiter(limiter *engine.RateLimiter) Option {
	return func(q *Queue) { q.limiter = limiter }
}

// WithLogger sets the logger for waits, cooldowns and failures.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock replaces the time source for spacing and cache expiry.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithSleep replaces how the drain loop waits. sleep must return early with
// ctx.Err() once ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = sleep }
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Depth         int        `json:"depth"`
	InFlight      bool       `json:"in_flight"`
	Draining      bool       `json:"draining"`
	Closed        bool       `json:"closed"`
	CacheHits     uint64     `json:"cache_hits"`
	CacheMisses   uint64     `json:"cache_misses"`
	Coalesced     uint64     `json:"coalesced"`
	UpstreamCalls uint64     `json:"upstream_calls"`
	Retries       uint64     `json:"retries"`
	Degraded      uint64     `json:"degraded"`
	Failures      uint64     `json:"failures"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
}

type result struct {
	body json.RawMessage
	err  error
}

// task is one queued upstream request and everyone waiting on it.
type task struct {
	url      string
	headers  map[string]string
	waiters  []chan result
	attempts int
}

// Queue is a rate-limited, caching fetcher for a single upstream.
type Queue struct {
	cfg     Config
	client  *http.Client
	cache   cache.Cache
	limiter *engine.RateLimiter
	logger  *logging.Logger
	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []*task
	tasks    map[string]*task
	current  *task
	draining bool
	closed   bool
	stats    Stats
}

// New creates a queue. Zero Config fields take their defaults.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = engine.DefaultMinInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = engine.DefaultCooldown
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DefaultTTL
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	q := &Queue{
		cfg:   cfg,
		tasks: make(map[string]*task),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	if q.client == nil {
		q.client = httpclient.New(nil)
	}
	if q.cache == nil {
		q.cache = cache.NewMemory(cfg.TTL)
	}
	if q.sleep == nil {
		q.sleep = sleepContext
	}
	if q.limiter == nil {
		q.limiter = &engine.RateLimiter{}
	}
	q.limiter.MinInterval = cfg.MinInterval
	q.limiter.Cooldown = cfg.Cooldown
	if q.limiter.Clock == nil {
		q.limiter.Clock = q.now
	}

	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// FetchThrottled returns the JSON body for rawURL, from the cache when a fresh
// entry exists and otherwise through the queue.
//
// ctx bounds how long the caller waits. A request abandoned by its caller still
// completes and populates the cache.
func (q *Queue) FetchThrottled(ctx context.Context, rawURL string, headers map[string]string) (json.RawMessage, error) {
	if q == nil {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if body, ok := q.lookup(ctx, rawURL); ok {
		return body, nil
	}

	ch := make(chan result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if existing, ok := q.tasks[rawURL]; ok {
		existing.waiters = append(existing.waiters, ch)
		q.stats.Coalesced++
	} else {
		t := &task{
			url:     rawURL,
			headers: copyHeaders(headers),
			waiters: []chan result{ch},
		}
		q.tasks[rawURL] = t
		q.pending = append(q.pending, t)
	}
	depth := len(q.pending)
	start := !q.draining
	if start {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	if start {
		go q.drain()
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}

	q.mu.Lock()
	out := q.stats
	out.Depth = len(q.pending)
	out.InFlight = q.current != nil
	out.Draining = q.draining
	out.Closed = q.closed
	q.mu.Unlock()

	state := q.limiter.State(q.cfg.Endpoint)
	if !state.LastRequestAt.IsZero() {
		last := state.LastRequestAt
		out.LastRequestAt = &last
	}
	return out
}

// Close stops accepting requests, fails queued waiters with ErrClosed, aborts
// the call in flight and waits for the drain loop to exit. It is safe to call
// more than once.
func (q *Queue) Close() {
	if q == nil {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	for _, t := range pending {
		delete(q.tasks, t.url)
	}
	q.mu.Unlock()

	for _, t := range pending {
		deliver(t.waiters, result{err: ErrClosed})
	}
	metrics.SetQueueDepth(0)

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.current = t
		depth := len(q.pending)
		q.mu.Unlock()

		metrics.SetQueueDepth(depth)
		res := q.process(t)

		q.mu.Lock()
		delete(q.tasks, t.url)
		q.current = nil
		waiters := t.waiters
		t.waiters = nil
		if res.err != nil && !errors.Is(res.err, ErrClosed) {
			q.stats.Failures++
		}
		q.mu.Unlock()

		deliver(waiters, res)
	}
}

func (q *Queue) process(t *task) result {
	// An earlier request for the same URL may have filled the cache while
	// this one was waiting.
	if body, ok := q.lookup(q.ctx, t.url); ok {
		return result{body: body}
	}

	if err := q.waitTurn(); err != nil {
		return result{err: ErrClosed}
	}

	status, body, err := q.call(t)
	if status == http.StatusTooManyRequests {
		cooldown, persistErr := q.limiter.Record429(q.ctx, q.cfg.Endpoint)
		q.logPersistError(persistErr)
		q.countRetry()
		metrics.RecordRetry(q.cfg.Endpoint)
		q.logWarn("Upstream rate limited, cooling down before retry",
			zap.String("url", config.RedactURL(t.url)),
			zap.Duration("cooldown", cooldown))

		if err := q.sleep(q.ctx, cooldown); err != nil {
			return result{err: ErrClosed}
		}
		if err := q.waitTurn(); err != nil {
			return result{err: ErrClosed}
		}

		status, body, err = q.call(t)
		if status == http.StatusTooManyRequests || err != nil {
			return q.retryFailed(t, status, err)
		}
	}
	if err != nil {
		if q.ctx.Err() != nil {
			return result{err: ErrClosed}
		}
		q.logWarn("Upstream request failed", zap.Error(err))
		return result{err: err}
	}

	entry := &core.CacheEntry{Key: t.url, Value: body, StoredAt: q.now()}
	if err := q.cache.Set(q.ctx, entry, q.cfg.TTL); err != nil {
		q.logWarn("Failed to cache upstream response", zap.Error(err))
	}
	return result{body: body}
}

// retryFailed settles a request whose single post-429 retry did not succeed,
// whatever the failure: empty result, or ErrRateLimited in strict mode.
func (q *Queue) retryFailed(t *task, status int, err error) result {
	if q.ctx.Err() != nil {
		return result{err: ErrClosed}
	}
	if status == http.StatusTooManyRequests {
		_, persistErr := q.limiter.Record429(q.ctx, q.cfg.Endpoint)
		q.logPersistError(persistErr)
	}
	q.countDegraded()
	metrics.RecordDegraded(q.cfg.Endpoint)
	fields := []zap.Field{
		zap.String("url", config.RedactURL(t.url)),
		zap.Int("status", status),
		zap.Bool("strict", q.cfg.StrictRateLimit),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	q.logWarn("Upstream retry after rate limit failed", fields...)
	if q.cfg.StrictRateLimit {
		return result{err: ErrRateLimited}
	}
	return result{body: append(json.RawMessage(nil), EmptyResult...)}
}

// waitTurn blocks until the limiter allows the next call.
func (q *Queue) waitTurn() error {
	wait := q.limiter.Delay(q.cfg.Endpoint)
	if wait <= 0 {
		return nil
	}
	metrics.RecordRateLimitWait(q.cfg.Endpoint, wait)
	q.logDebug("Waiting for upstream spacing", zap.Duration("wait", wait))
	return q.sleep(q.ctx, wait)
}

// call issues one GET. A 429 is reported through the status with a nil error.
func (q *Queue) call(t *task) (int, json.RawMessage, error) {
	t.attempts++
	q.logPersistError(q.limiter.Record(q.ctx, q.cfg.Endpoint))
	q.mu.Lock()
	q.stats.UpstreamCalls++
	q.mu.Unlock()

	req, err := http.NewRequestWithContext(q.ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return 0, nil, transportError(t.url, err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	started := time.Now()
	resp, err := q.client.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(q.cfg.Endpoint, 0, time.Since(started))
		return 0, nil, transportError(t.url, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.RecordUpstreamRequest(q.cfg.Endpoint, resp.StatusCode, time.Since(started))
	if err != nil {
		return resp.StatusCode, nil, transportError(t.url, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &UpstreamError{
			URL:        config.RedactURL(t.url),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	if !gjson.ValidBytes(body) {
		return resp.StatusCode, nil, &UpstreamError{
			URL:        config.RedactURL(t.url),
			StatusCode: resp.StatusCode,
			Message:    "response is not valid JSON",
			Malformed:  true,
		}
	}
	return resp.StatusCode, json.RawMessage(body), nil
}

// lookup returns a fresh cached body for key and records the hit or miss.
func (q *Queue) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, err := q.cache.Get(ctx, key)
	if err != nil {
		q.logWarn("Response cache lookup failed", zap.Error(err))
		entry = nil
	}

	hit := entry != nil && !entry.Expired(q.now(), q.cfg.TTL)
	q.mu.Lock()
	if hit {
		q.stats.CacheHits++
	} else {
		q.stats.CacheMisses++
	}
	q.mu.Unlock()
	metrics.RecordCacheLookup(hit)

	if !hit {
		return nil, false
	}
	return append(json.RawMessage(nil), entry.Value...), true
}

func (q *Queue) countRetry() {
	q.mu.Lock()
	q.stats.Retries++
	q.mu.Unlock()
}

func (q *Queue) countDegraded() {
	q.mu.Lock()
	q.stats.Degraded++
	q.mu.Unlock()
}

func (q *Queue) now() time.Time {
	if q != nil && q.clock != nil {
		return q.clock()
	}
	return time.Now().UTC()
}

func (q *Queue) logDebug(msg string, fields ...zap.Field) {
	if q.logger != nil {
		q.logger.Debug(msg, append(fields, zap.String("endpoint", q.cfg.Endpoint))...)
	}
}

func (q *Queue) logWarn(msg string, fields ...zap.Field) {
	if q.logger != nil {
		q.logger.Warn(msg, append(fields, zap.String("endpoint", q.cfg.Endpoint))...)
	}
}

func (q *Queue) logPersistError(err error) {
	if err != nil {
		q.logWarn("Failed to persist rate limit state", zap.Error(err))
	}
}

func deliver(waiters []chan result, res result) {
	for _, ch := range waiters {
		out := res
		if res.body != nil {
			out.body = append(json.RawMessage(nil), res.body...)
		}
		ch <- out
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.Type == gjson.String {
		return truncate(msg.String())
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.Type == gjson.String {
		return truncate(msg.String())
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	return s[:maxErrorMessage] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
