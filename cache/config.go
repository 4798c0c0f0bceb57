package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-crm-batch/internal/cacheinfra"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Driver             string        `koanf:"driver"`
	Namespace          string        `koanf:"namespace"`
	Capacity           int           `koanf:"capacity"`
	NumShards          int           `koanf:"num_shards"`
	TTL                time.Duration `koanf:"ttl"`
	EvictionPercentage int           `koanf:"eviction_percentage"`
	EvictionInterval   time.Duration `koanf:"eviction_interval"`
	Redis              RedisConfig   `koanf:"redis"`
}

// RedisConfig points the shared store at a Redis server.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// DefaultConfig returns an in-process store configuration.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.Driver == DriverRedis {
		if c.Redis.Addr == "" {
			return &cacheinfra.ConfigError{Field: "Redis.Addr", Message: "is required for the redis driver"}
		}
		return nil
	}
	return c.toInternal().Validate()
}

// NewStore constructs the Store selected by cfg.Driver.
func NewStore(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return cacheinfra.NewRedisStore(client, cfg.Redis.Prefix, MaxTTL), nil
	default:
		return cacheinfra.NewSturdycStore(cfg.toInternal())
	}
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Driver:             DriverMemory,
		Namespace:          DefaultNamespace,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
