// Package cache provides the key/value store used to keep OAuth sessions
// across requests and process restarts. Memory and Redis drivers are built in.
package cache

import (
	"errors"
	"fmt"

	"github.com/gobeaver/beaver-social/cache/driver"
	"github.com/gobeaver/beaver-social/config"
)

// Common errors
var (
	ErrInvalidDriver = errors.New("invalid cache driver")
	ErrKeyNotFound   = driver.ErrNotFound
)

// Builder provides a way to create cache instances with custom prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// New creates a new cache instance using the builder's prefix
func (b *Builder) New() (Cache, error) {
	cfg, err := GetConfig(config.LoadOptions{Prefix: b.prefix})
	if err != nil {
		return nil, err
	}
	return New(*cfg)
}

// New creates a new cache instance with given config
func New(cfg Config) (Cache, error) {
	switch cfg.Driver {
	case "", "memory", "builtin":
		return memoryRegister(cfg)
	case "redis":
		return redisRegister(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}

// NewFromEnv creates cache instance from BEAVER_ prefixed environment variables
func NewFromEnv() (Cache, error) {
	return WithPrefix(config.DefaultPrefix).New()
}
