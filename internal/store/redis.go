// Package store persists runtime provider settings and sync positions
// in Redis. Settings written here overlay the static file
// configuration on scheduler start.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/errors"
)

const (
	settingsKeyFormat  = "glucosync:settings:%s"
	watermarkKeyFormat = "glucosync:watermark:%s"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// Store is a Redis-backed settings and position store.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to redis at %s", cfg.Addr))
	}

	return &Store{
		client: client,
		logger: logger.With(zap.String("component", "settings_store")),
	}, nil
}

// Load returns the runtime settings overlay for a provider. A missing
// hash yields an empty map, not an error.
func (s *Store) Load(ctx context.Context, provider string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, fmt.Sprintf(settingsKeyFormat, provider)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load provider settings")
	}
	return values, nil
}

// Save writes runtime settings for a provider, replacing existing keys
// but leaving unnamed ones untouched.
func (s *Store) Save(ctx context.Context, provider string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, fmt.Sprintf(settingsKeyFormat, provider), args...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to save provider settings")
	}
	return nil
}

// LoadWatermark returns the persisted sync position for a provider, or
// the zero time when none has been saved.
func (s *Store) LoadWatermark(ctx context.Context, provider string) (time.Time, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(watermarkKeyFormat, provider)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load watermark")
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeData, "corrupt persisted watermark")
	}
	return ts, nil
}

// SaveWatermark persists the sync position for a provider.
func (s *Store) SaveWatermark(ctx context.Context, provider string, watermark time.Time) error {
	if watermark.IsZero() {
		return nil
	}
	key := fmt.Sprintf(watermarkKeyFormat, provider)
	if err := s.client.Set(ctx, key, watermark.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to save watermark")
	}
	return nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
