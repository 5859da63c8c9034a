package issuer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeyCache is the vendor's single-cell cache of the issuer public key:
// read-heavy under an RWMutex, lazily fetched on first use, refreshed at
// most once per backoff window when a certificate fails to verify.
// Concurrent refreshes collapse into one fetch via singleflight.
//
// A stale cache must never silently validate certificates signed by a
// rotated key, so the certificate path calls ForceRefresh once on verify
// failure before reporting invalid_certificate.
type KeyCache struct {
	fetch func(ctx context.Context) ([]byte, error)

	mu  sync.RWMutex
	der []byte

	sf singleflight.Group

	refreshMu   sync.Mutex
	lastAttempt time.Time
	backoff     time.Duration

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewKeyCache wraps a fetch function (normally Client.FetchPublicKey).
func NewKeyCache(fetch func(ctx context.Context) ([]byte, error)) *KeyCache {
	return &KeyCache{
		fetch:      fetch,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Get returns the cached key, fetching it on first use.
func (c *KeyCache) Get(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	der := c.der
	c.mu.RUnlock()
	if der != nil {
		return der, nil
	}
	return c.refresh(ctx)
}

// ForceRefresh re-fetches the key unless a refresh was already attempted
// inside the current backoff window, in which case the cached key (if any)
// is returned unchanged. Each consecutive forced refresh widens the window
// up to the cap.
func (c *KeyCache) ForceRefresh(ctx context.Context) ([]byte, error) {
	c.refreshMu.Lock()
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.backoff {
		c.refreshMu.Unlock()
		c.mu.RLock()
		der := c.der
		c.mu.RUnlock()
		if der != nil {
			return der, nil
		}
		return nil, ErrUnreachable
	}
	c.lastAttempt = time.Now()
	if c.backoff == 0 {
		c.backoff = c.minBackoff
	} else {
		c.backoff *= 2
		if c.backoff > c.maxBackoff {
			c.backoff = c.maxBackoff
		}
	}
	c.refreshMu.Unlock()

	return c.refresh(ctx)
}

func (c *KeyCache) refresh(ctx context.Context) ([]byte, error) {
	v, err, _ := c.sf.Do("issuer-public-key", func() (interface{}, error) {
		der, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.der = der
		c.mu.Unlock()
		return der, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
