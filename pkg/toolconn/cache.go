package toolconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/taskchat/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultIdleTTL is how long an unused connection stays cached
const DefaultIdleTTL = 10 * time.Minute

// Handle is a live, credential-bound connection owned by the cache
type Handle struct {
	userID     string
	credential string
	conn       Conn
	lastUsed   time.Time
}

// UserID returns the identity the connection is bound to
func (h *Handle) UserID() string {
	return h.userID
}

// Conn returns the underlying connection
func (h *Handle) Conn() Conn {
	return h.conn
}

// Cache keeps at most one live backend connection per user identity.
// All mutation happens under a single mutex, so concurrent acquisitions
// for the same user never race a duplicate connection attempt. The lock
// covers decision and mutation only; using a returned handle does not
// hold it.
type Cache struct {
	dialer  Dialer
	idleTTL time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*Handle
	closed  bool
}

// Config holds cache configuration
type Config struct {
	Dialer  Dialer
	IdleTTL time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock, for tests
	Now func() time.Time
}

// NewCache creates a new connection cache
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		dialer:  cfg.Dialer,
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		entries: make(map[string]*Handle),
	}, nil
}

// Acquire returns a live connection for the user, reusing the cached one
// when its credential matches, and dialing a fresh one otherwise. A failed
// dial leaves the cache exactly as it was: on the credential-replacement
// path the previous entry is removed only after the new connection
// succeeds, so a failed refresh does not strand the user with nothing.
func (c *Cache) Acquire(ctx context.Context, userID, credential string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("connection cache is closed")
	}

	now := c.now()
	c.evictIdleLocked(ctx, now)

	if cached, ok := c.entries[userID]; ok {
		if cached.credential == credential {
			cached.lastUsed = now
			if c.metrics != nil {
				c.metrics.ConnectionCacheHitsTotal.Inc()
			}
			c.logger.Debug().Str("user_id", userID).Msg("Tool connection cache hit")
			return cached, nil
		}
		c.logger.Info().Str("user_id", userID).Msg("Credential changed, replacing tool connection")
	}

	conn, err := c.dialer.Dial(ctx, userID, credential)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ConnectErrorsTotal.Inc()
		}
		return nil, fmt.Errorf("failed to connect to tool backend for user %s: %w", userID, err)
	}

	if stale, ok := c.entries[userID]; ok {
		safeClose(ctx, stale.conn, c.logger.With().Str("user_id", userID).Logger())
		delete(c.entries, userID)
		if c.metrics != nil {
			c.metrics.ConnectionsEvictedTotal.WithLabelValues("credential_rotated").Inc()
		}
	}

	handle := &Handle{
		userID:     userID,
		credential: credential,
		conn:       conn,
		lastUsed:   now,
	}
	c.entries[userID] = handle

	if c.metrics != nil {
		c.metrics.ConnectionsCreatedTotal.Inc()
		c.metrics.ConnectionsActive.Set(float64(len(c.entries)))
	}
	c.logger.Info().Str("user_id", userID).Msg("Connected tool backend client")

	return handle, nil
}

// Invalidate removes and closes the user's cached connection, if any.
// Used when an external signal says the connection is no longer
// trustworthy, such as a revoked credential.
func (c *Cache) Invalidate(ctx context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictIdleLocked(ctx, c.now())

	cached, ok := c.entries[userID]
	if !ok {
		return
	}

	delete(c.entries, userID)
	safeClose(ctx, cached.conn, c.logger.With().Str("user_id", userID).Logger())

	if c.metrics != nil {
		c.metrics.ConnectionsEvictedTotal.WithLabelValues("invalidated").Inc()
		c.metrics.ConnectionsActive.Set(float64(len(c.entries)))
	}
	c.logger.Info().Str("user_id", userID).Msg("Invalidated cached tool connection")
}

// Size returns the number of cached connections
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes every cached connection. The cache rejects further use.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	ctx := context.Background()
	for userID, cached := range c.entries {
		safeClose(ctx, cached.conn, c.logger.With().Str("user_id", userID).Logger())
		delete(c.entries, userID)
	}
	if c.metrics != nil {
		c.metrics.ConnectionsActive.Set(0)
	}
	c.logger.Info().Msg("Connection cache closed")
}

// evictIdleLocked closes entries idle beyond the TTL. Piggy-backed on
// every cache operation instead of a background sweeper. Must be called
// with the lock held.
func (c *Cache) evictIdleLocked(ctx context.Context, now time.Time) {
	for userID, cached := range c.entries {
		if now.Sub(cached.lastUsed) <= c.idleTTL {
			continue
		}
		delete(c.entries, userID)
		safeClose(ctx, cached.conn, c.logger.With().Str("user_id", userID).Logger())
		if c.metrics != nil {
			c.metrics.ConnectionsEvictedTotal.WithLabelValues("idle").Inc()
		}
		c.logger.Info().Str("user_id", userID).Msg("Evicted idle tool connection")
	}
	if c.metrics != nil {
		c.metrics.ConnectionsActive.Set(float64(len(c.entries)))
	}
}
