package cache

import (
	"github.com/gobeaver/beaver-social/cache/driver/memory"
	"github.com/gobeaver/beaver-social/cache/driver/redis"
)

func memoryRegister(cfg Config) (Cache, error) {
	return memory.New(memory.Config{
		MaxKeys:         cfg.MaxKeys,
		DefaultTTL:      cfg.DefaultTTL,
		CleanupInterval: cfg.CleanupInterval,
		KeyPrefix:       cfg.KeyPrefix,
		Namespace:       cfg.Namespace,
	})
}

func redisRegister(cfg Config) (Cache, error) {
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.Database,
		URL:      cfg.URL,

		MaxRetries:      cfg.MaxRetries,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,

		UseTLS:   cfg.UseTLS,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,

		DefaultTTL: cfg.DefaultTTL,
		KeyPrefix:  cfg.KeyPrefix,
		Namespace:  cfg.Namespace,
	})
}
