package request

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// Default request parameters, matching the platform-wide contract.
const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultRetryCount     = 3
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultTimeout        = 30 * time.Second
)

// Options configures one coordinated request. The zero value is usable:
// defaults are applied by normalize.
type Options struct {
	// Method defaults to GET.
	Method string

	// Headers are sent verbatim on every attempt.
	Headers map[string]string

	// Body is the opaque request payload for mutating methods.
	Body []byte

	// Cache enables response caching. Defaults to true for reads, false
	// otherwise. Set CacheDisabled to opt a read out.
	CacheDisabled bool

	// CacheTTL bounds how long a cached response is served. Defaults to
	// DefaultCacheTTL.
	CacheTTL time.Duration

	// RetryCount is the number of additional attempts after the first.
	// Defaults to DefaultRetryCount; set RetryDisabled for zero retries.
	RetryCount    int
	RetryDisabled bool

	// RetryBaseDelay seeds the exponential backoff schedule. Defaults to
	// DefaultRetryBaseDelay.
	RetryBaseDelay time.Duration

	// Timeout bounds each attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// AllowOffline enables offline handling: stale reads from cache and
	// mutation capture. Defaults to true; set OfflineDisabled to opt out.
	OfflineDisabled bool
}

// Defaults carries the configured request parameters applied when a caller
// leaves the corresponding Options field unset. Zero fields fall through to
// the package-level constants, so the zero value changes nothing.
type Defaults struct {
	CacheTTL       time.Duration
	RetryCount     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

// normalize fills unset fields in place: configured defaults first, package
// constants last.
func (o *Options) normalize(d Defaults) {
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.RetryCount <= 0 && !o.RetryDisabled {
		o.RetryCount = d.RetryCount
	}
	if o.RetryCount <= 0 && !o.RetryDisabled {
		o.RetryCount = DefaultRetryCount
	}
	if o.RetryDisabled {
		o.RetryCount = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// isRead reports whether the method has no state-changing semantics.
func (o *Options) isRead() bool {
	return o.Method == http.MethodGet || o.Method == http.MethodHead
}

// cacheEnabled reports whether responses should be cached: reads by
// default, never mutations.
func (o *Options) cacheEnabled() bool {
	return o.isRead() && !o.CacheDisabled
}

// requestKey computes the deterministic operation signature used for cache
// lookups and read deduplication: method, target, and a digest of the body.
func requestKey(method, target string, body []byte) string {
	key := method + ":" + target
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		key += ":" + hex.EncodeToString(sum[:])
	}
	return key
}
