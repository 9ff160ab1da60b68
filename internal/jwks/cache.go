// Package jwks resolves token key ids against a remote JWKS endpoint,
// caching the fetched key set with a soft freshness window.
package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound indicates the key id is absent from the key set even after
// a refresh.
var ErrKeyNotFound = errors.New("jwks: key not found")

// FetchError indicates the remote key set could not be retrieved and no
// cached entry was available to serve.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("jwks: fetch %s failed: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

const (
	defaultTTL          = time.Hour
	defaultFetchTimeout = 10 * time.Second
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window after which cached keys are considered
// stale. Staleness is soft: a stale entry is still served when a refresh
// fails.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a single remote key-set fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for key-set fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// Cache resolves key ids to public verification keys fetched from a remote
// JWKS endpoint. Keys are immutable once fetched; a refresh replaces the
// entire cached set atomically. Safe for concurrent use.
type Cache struct {
	url     string
	ttl     time.Duration
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
}

// New constructs a Cache for the given JWKS URL. No fetch happens until the
// first Resolve call.
func New(jwksURL string, opts ...Option) *Cache {
	c := &Cache{
		url:     jwksURL,
		ttl:     defaultTTL,
		timeout: defaultFetchTimeout,
		client:  http.DefaultClient,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the public key for the given key id. On a miss or a stale
// cache it refetches the full key set; concurrent refreshes are shared. A
// fetch failure is tolerated when a cached entry for the id exists, fresh or
// not.
func (c *Cache) Resolve(ctx context.Context, kid string) (crypto.PublicKey, error) {
	cached, haveCached, fresh := c.lookup(kid)
	if haveCached && fresh {
		return cached.Key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if haveCached {
			c.log.WarnContext(ctx, "jwks.refresh.fail.serving_stale",
				slog.String("kid", kid), slog.String("err", err.Error()))
			return cached.Key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return key.Key, nil
}

func (c *Cache) lookup(kid string) (key jose.JSONWebKey, ok bool, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	fresh = !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
	return key, ok, fresh
}

// refresh fetches the key set and atomically replaces the cached entries.
// Concurrent callers share one in-flight fetch.
func (c *Cache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		keys, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, &FetchError{URL: c.url, Err: err}
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.log.DebugContext(ctx, "jwks.refresh.ok", slog.Int("keys", len(keys)))
		return nil, nil
	})
	return err
}

func (c *Cache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("invalid key set document: %w", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() {
			continue
		}
		keys[k.KeyID] = k
	}
	return keys, nil
}
