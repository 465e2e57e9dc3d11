package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"papertrader/internal/models"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the snapshot as a JSON string under one key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	key := cfg.Key
	if key == "" {
		key = "papertrader:state"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context) (models.PersistedSnapshot, error) {
	var snap models.PersistedSnapshot
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, ErrNoSnapshot
		}
		return snap, fmt.Errorf("чтение redis: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("разбор снапшота redis: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Set(ctx context.Context, snap models.PersistedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("запись redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
