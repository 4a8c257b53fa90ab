package request

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harborwatch/fleetcore/internal/cache"
	"github.com/harborwatch/fleetcore/internal/netmon"
	"github.com/harborwatch/fleetcore/internal/queue"
	"github.com/harborwatch/fleetcore/internal/retry"
	"github.com/harborwatch/fleetcore/internal/tracing"
)

// Coordinator routes every request through cache, dedup, retry, and offline
// logic and returns a uniform Result. Construct with New; the zero value is
// not usable.
type Coordinator struct {
	logger  *slog.Logger
	client  *http.Client
	cache   *cache.Cache
	retryer *retry.Executor
	queue   *queue.Queue
	monitor  *netmon.Monitor
	metrics  *Metrics
	defaults Defaults

	group singleflight.Group
}

// New creates a Coordinator. The cache, queue, monitor, and metrics may be
// nil, disabling the corresponding behavior; the retry executor is created
// internally. A nil client falls back to http.DefaultClient.
func New(client *http.Client, c *cache.Cache, q *queue.Queue, m *netmon.Monitor, metrics *Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Coordinator{
		logger:  logger,
		client:  client,
		cache:   c,
		retryer: retry.New(logger),
		queue:   q,
		monitor: m,
		metrics: metrics,
	}
}

// SetDefaults replaces the package-level request parameters with configured
// values. Per-request Options still take precedence. Call before the first
// request; defaults are read without locking.
func (c *Coordinator) SetDefaults(d Defaults) {
	c.defaults = d
}

// Do executes one request. All failure is carried in the returned Result;
// this method never panics and never returns an error out of band.
func (c *Coordinator) Do(ctx context.Context, target string, opts Options) Result {
	opts.normalize(c.defaults)
	start := time.Now()

	ctx, endSpan := tracing.StartRequestSpan(ctx, opts.Method, target)
	result := c.route(ctx, target, opts)
	endSpan(result.Err)

	c.observe(result, time.Since(start))
	return result
}

// route applies the decision ladder: cache, offline handling, dedup,
// network.
func (c *Coordinator) route(ctx context.Context, target string, opts Options) Result {
	key := requestKey(opts.Method, target, opts.Body)

	// Live cache entry: no network access.
	if opts.cacheEnabled() && c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			if c.metrics != nil {
				c.metrics.IncCacheHits()
			}
			return Result{
				Data:            data,
				StatusCode:      http.StatusOK,
				ServedFromCache: true,
				Timestamp:       time.Now().UTC(),
			}
		}
	}

	if c.offline() && !opts.OfflineDisabled {
		return c.handleOffline(ctx, target, key, opts)
	}

	// Concurrent identical reads share one network call. Mutations are
	// never deduplicated. The singleflight slot clears when the shared
	// call resolves, so a fresh request afterwards hits the network again.
	if opts.isRead() {
		v, _, shared := c.group.Do(key, func() (interface{}, error) {
			return c.executeNetwork(ctx, target, key, opts), nil
		})
		if shared && c.metrics != nil {
			c.metrics.IncDedupHits()
		}
		return v.(Result)
	}

	return c.executeNetwork(ctx, target, key, opts)
}

// handleOffline serves reads from the last cached value and captures
// mutations for later replay.
func (c *Coordinator) handleOffline(ctx context.Context, target, key string, opts Options) Result {
	if opts.isRead() {
		if c.cache != nil {
			if data, ok := c.cache.Get(key); ok {
				if c.metrics != nil {
					c.metrics.IncCacheHits()
				}
				return Result{
					Data:            data,
					StatusCode:      http.StatusOK,
					ServedFromCache: true,
					Timestamp:       time.Now().UTC(),
				}
			}
		}
		return Result{Err: ErrOfflineNoCache, Timestamp: time.Now().UTC()}
	}

	if c.queue == nil {
		return Result{Err: ErrOfflineMutation, Timestamp: time.Now().UTC()}
	}

	pending := c.queue.Enqueue(ctx, queue.PendingMutation{
		Target:  target,
		Method:  opts.Method,
		Headers: opts.Headers,
		Body:    opts.Body,
	})
	return Result{
		StatusCode: http.StatusAccepted,
		Queued:     true,
		QueuedID:   pending.ID,
		Timestamp:  time.Now().UTC(),
	}
}

// executeNetwork performs the call through the retry executor and populates
// the cache on success.
func (c *Coordinator) executeNetwork(ctx context.Context, target, key string, opts Options) Result {
	outcome := c.retryer.Execute(ctx, c.operation(target, opts), retry.Policy{
		MaxRetries: opts.RetryCount,
		BaseDelay:  opts.RetryBaseDelay,
		Timeout:    opts.Timeout,
	})

	if outcome.Err != nil {
		return Result{Err: outcome.Err, Timestamp: time.Now().UTC()}
	}

	if opts.cacheEnabled() && c.cache != nil {
		c.cache.Put(key, outcome.Data, opts.CacheTTL)
	}

	return Result{
		Data:       outcome.Data,
		StatusCode: outcome.StatusCode,
		Timestamp:  time.Now().UTC(),
	}
}

// operation builds the single-attempt network call executed under retry.
func (c *Coordinator) operation(target string, opts Options) retry.Operation {
	return func(ctx context.Context) (int, []byte, error) {
		var body io.Reader
		if len(opts.Body) > 0 {
			body = bytes.NewReader(opts.Body)
		}

		req, err := http.NewRequestWithContext(ctx, opts.Method, target, body)
		if err != nil {
			return 0, nil, err
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, data, nil
	}
}

// Dispatch reissues a queued mutation with offline handling disabled, so a
// replay can never re-enqueue itself. It satisfies queue.Dispatcher.
func (c *Coordinator) Dispatch(ctx context.Context, m queue.PendingMutation) error {
	result := c.Do(ctx, m.Target, Options{
		Method:          m.Method,
		Headers:         m.Headers,
		Body:            m.Body,
		CacheDisabled:   true,
		OfflineDisabled: true,
	})
	return result.Err
}

// InvalidateCache removes cached responses whose key contains pattern,
// supporting coarse invalidation by resource family. An empty pattern
// clears the cache.
func (c *Coordinator) InvalidateCache(pattern string) {
	if c.cache != nil {
		c.cache.Invalidate(pattern)
	}
}

// PendingRequestsCount reports the offline queue depth. This is one of the
// two values ops tooling polls; the other is the audit ledger's stats.
func (c *Coordinator) PendingRequestsCount() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.PendingCount()
}

func (c *Coordinator) offline() bool {
	return c.monitor != nil && !c.monitor.IsOnline()
}

func (c *Coordinator) observe(r Result, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	switch {
	case r.Queued:
		c.metrics.IncRequests(OutcomeQueued)
	case r.Err != nil:
		c.metrics.IncRequests(OutcomeError)
	default:
		c.metrics.IncRequests(OutcomeSuccess)
	}
	c.metrics.ObserveDuration(elapsed.Seconds())
}
