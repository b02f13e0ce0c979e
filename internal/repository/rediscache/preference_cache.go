// Package rediscache fronts preference lookups with Redis.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

const (
	keyPrefix = "questline:pref:"
	// absent marks a cached lookup that found no row.
	absent = "-"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "preference_cache_lookups_total",
	Help: "Preference cache lookups by result (hit, miss, error).",
}, []string{"result"})

var _ notification.PreferenceRepo = (*PreferenceCache)(nil)

// PreferenceCache is a read-through cache over a PreferenceRepo. Writes go
// to the repo first and then drop the affected keys. A write made inside a
// caller's transaction must be followed by Invalidate after commit.
type PreferenceCache struct {
	next notification.PreferenceRepo
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  *zap.Logger
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewPreferenceCache(next notification.PreferenceRepo, rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) *PreferenceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PreferenceCache{next: next, rdb: rdb, ttl: ttl, log: obs.Component(log, "preference_cache")}
}

func key(userID string, t notification.Type) string {
	return keyPrefix + userID + ":" + string(t)
}

func (c *PreferenceCache) Get(ctx context.Context, userID string, t notification.Type) (*notification.Preference, error) {
	k := key(userID, t)
	raw, err := c.rdb.Get(ctx, k).Result()
	switch {
	case err == nil:
		cacheLookups.WithLabelValues("hit").Inc()
		if raw == absent {
			return nil, nil
		}
		var p notification.Preference
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		c.log.Warn("corrupt cache entry", zap.String("key", k))
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		c.log.Warn("cache get failed", zap.String("key", k), zap.Error(err))
		return c.next.Get(ctx, userID, t)
	}

	p, err := c.next.Get(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	val := absent
	if p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return p, nil
		}
		val = string(b)
	}
	if err := c.rdb.Set(ctx, k, val, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("key", k), zap.Error(err))
	}
	return p, nil
}

func (c *PreferenceCache) List(ctx context.Context, userID string) ([]notification.Preference, error) {
	return c.next.List(ctx, userID)
}

func (c *PreferenceCache) Update(ctx context.Context, userID string, t notification.Type, patch notification.PreferencePatch) error {
	if err := c.next.Update(ctx, userID, t, patch); err != nil {
		return err
	}
	c.invalidate(ctx, key(userID, t))
	return nil
}

func (c *PreferenceCache) Seed(ctx context.Context, userID string) error {
	if err := c.next.Seed(ctx, userID); err != nil {
		return err
	}
	c.Invalidate(ctx, userID, notification.Types...)
	return nil
}

// Invalidate drops the cached rows of userID for types.
func (c *PreferenceCache) Invalidate(ctx context.Context, userID string, types ...notification.Type) {
	if len(types) == 0 {
		return
	}
	keys := make([]string, 0, len(types))
	for _, t := range types {
		keys = append(keys, key(userID, t))
	}
	c.invalidate(ctx, keys...)
}

func (c *PreferenceCache) invalidate(ctx context.Context, keys ...string) {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
