// Package esclient wraps the official Elasticsearch v8 client with a
// bounded checkout pool, mapping-equivalence comparison, and the
// bulk-action framing the table manager needs for fan-out writes.
package esclient

import (
	"context"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// Config bounds how many requests may be in flight against the search
// cluster at once. The official client is itself safe for concurrent
// use over a pooled http.Transport; the checkout semaphore here exists
// to cap concurrent in-flight requests, not to serialize access to the
// client.
type Config struct {
	PoolSize        int
	IdlePoolSize    int
	CheckoutTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.IdlePoolSize <= 0 {
		c.IdlePoolSize = 1
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = 5 * time.Second
	}
	return c
}

// Client is the search-cluster client used by the reconciler,
// backfiller and watcher.
type Client struct {
	es   *elasticsearch.Client
	pool chan struct{}
	cfg  Config
}

// New builds a Client around esCfg, sized per cfg.
func New(esCfg elasticsearch.Config, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Client{
		es:   es,
		pool: make(chan struct{}, cfg.PoolSize),
		cfg:  cfg,
	}, nil
}

// acquire reserves a pool slot, blocking up to cfg.CheckoutTimeout (and
// respecting ctx cancellation). Callers must call the returned release
// func exactly once, typically via defer.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	timeout := c.cfg.CheckoutTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.pool <- struct{}{}:
		return func() { <-c.pool }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolExhausted
	}
}
