package cache

import (
	"context"
	"time"
)

// Cache defines the cache interface
type Cache interface {
	// Get retrieves a cached value
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Delete removes a cached value
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) bool

	// Clear removes all cached values
	Clear(ctx context.Context) error

	// GetWithTTL retrieves value with remaining TTL
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool)

	// Close closes the cache connection
	Close() error
}

// Config defines cache configuration
type Config struct {
	// Default expiration time
	DefaultExpiration time.Duration `json:"default_expiration" yaml:"default_expiration" env:"CACHE_DEFAULT_EXPIRATION" default:"10m"`

	// Cleanup interval
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"CACHE_CLEANUP_INTERVAL" default:"10m"`
}

// DefaultConfig 音频数据缓存的默认配置，10分钟过期
func DefaultConfig() Config {
	return Config{
		DefaultExpiration: 10 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	}
}
