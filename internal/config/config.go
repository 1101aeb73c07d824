// Package config loads the search-cluster connection settings from
// environment variables, falling back to hardcoded defaults the way
// pkg/grpcconfig resolves service addresses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redbco/searchsync/internal/model"
)

// Config is the resolved connection configuration for the search
// cluster client.
type Config struct {
	// URI, if set, takes precedence over Host/Port/TLS entirely.
	URI  string
	Host string
	Port int
	TLS  bool

	ConnPoolSize    int
	IdlePoolSize    int
	ConnPoolTimeout float64 // seconds
}

// Load reads ES_URI, ES_HOST, ES_PORT, ES_TLS, ES_CONN_POOL,
// ES_IDLE_POOL and ES_CONN_POOL_TIMEOUT from the environment.
// managedTableCount seeds ES_CONN_POOL's default (one connection per
// managed table) when the variable is unset.
func Load(managedTableCount int) (Config, error) {
	cfg := Config{
		URI:  os.Getenv("ES_URI"),
		Host: "localhost",
		Port: 9200,
	}

	if host := os.Getenv("ES_HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("ES_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, &model.ConfigurationError{Reason: fmt.Sprintf("invalid ES_PORT %q: %v", portStr, err)}
		}
		cfg.Port = port
	}

	cfg.TLS = strings.EqualFold(os.Getenv("ES_TLS"), "true")

	connPool := managedTableCount
	if connPool <= 0 {
		connPool = 1
	}
	if v := os.Getenv("ES_CONN_POOL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &model.ConfigurationError{Reason: fmt.Sprintf("invalid ES_CONN_POOL %q: %v", v, err)}
		}
		connPool = n
	}
	cfg.ConnPoolSize = connPool

	idlePool := connPool / 4
	if idlePool < 1 {
		idlePool = 1
	}
	if v := os.Getenv("ES_IDLE_POOL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &model.ConfigurationError{Reason: fmt.Sprintf("invalid ES_IDLE_POOL %q: %v", v, err)}
		}
		idlePool = n
	}
	cfg.IdlePoolSize = idlePool

	cfg.ConnPoolTimeout = 5.0
	if v := os.Getenv("ES_CONN_POOL_TIMEOUT"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, &model.ConfigurationError{Reason: fmt.Sprintf("invalid ES_CONN_POOL_TIMEOUT %q: %v", v, err)}
		}
		cfg.ConnPoolTimeout = t
	}

	return cfg, nil
}

// Addresses returns the Elasticsearch base URL(s) this config
// resolves to, honoring ES_URI's precedence over host/port/TLS.
func (c Config) Addresses() []string {
	if c.URI != "" {
		return []string{c.URI}
	}
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return []string{fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)}
}
