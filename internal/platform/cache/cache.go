// Package cache keeps patient status listings in Redis between mutations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
)

// DefaultTTL bounds how long a listing is kept when Redis misses an
// invalidation, and how long orphaned listings linger.
const DefaultTTL = 30 * time.Second

// ListCache is a Redis-backed patient.ListCache. Failures are logged and
// treated as misses; the store stays the source of truth.
type ListCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
	enabled   bool
}

type Config struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
}

// New connects to Redis. An empty URL yields a disabled cache that always
// misses.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*ListCache, error) {
	if cfg.URL == "" {
		return &ListCache{enabled: false, logger: logger}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *ListCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "opd"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ListCache{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
		logger:    logger.With().Str("component", "list_cache").Logger(),
		enabled:   true,
	}
}

func (c *ListCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *ListCache) IsEnabled() bool {
	return c.enabled
}

func (c *ListCache) key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

func (c *ListCache) genKey() string {
	return c.key("patients", "gen")
}

// Listings live under the generation they were read in. Invalidate moves the
// generation forward, which orphans every earlier listing, including one a
// slow reader writes back after the mutation. Orphans expire with the TTL.
func (c *ListCache) listKey(gen int64, status patient.Status) string {
	return c.key("patients", "list", strconv.FormatInt(gen, 10), string(status))
}

func (c *ListCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *ListCache) GetList(ctx context.Context, status patient.Status) ([]*patient.Patient, int64, bool) {
	if !c.enabled {
		return nil, -1, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache generation read failed")
		return nil, -1, false
	}
	data, err := c.client.Get(ctx, c.listKey(gen, status)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("status", string(status)).Msg("cache read failed")
		}
		return nil, gen, false
	}
	var patients []*patient.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		c.logger.Warn().Err(err).Str("status", string(status)).Msg("discarding undecodable cache entry")
		return nil, gen, false
	}
	if patients == nil {
		patients = []*patient.Patient{}
	}
	return patients, gen, true
}

// SetList stores a listing read under gen. Negative generations are
// ignored.
func (c *ListCache) SetList(ctx context.Context, status patient.Status, gen int64, patients []*patient.Patient) {
	if !c.enabled || gen < 0 {
		return
	}
	if patients == nil {
		patients = []*patient.Patient{}
	}
	data, err := json.Marshal(patients)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode listing for cache")
		return
	}
	if err := c.client.Set(ctx, c.listKey(gen, status), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("status", string(status)).Msg("cache write failed")
	}
}

// Invalidate retires both listings at once. A record moving between states
// changes both.
func (c *ListCache) Invalidate(ctx context.Context) {
	if !c.enabled {
		return
	}
	if err := c.client.Incr(ctx, c.genKey()).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// Ping is used by the store health endpoint.
func (c *ListCache) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
