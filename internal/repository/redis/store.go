package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-auth-service/internal/client"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"
)

const maxUpdateRetries = 16

// Store is the shared repository.Store for multi-instance deployments.
// Update uses WATCH/MULTI so concurrent writers on the same key retry
// instead of losing updates.
type Store struct {
	client *client.RedisClient
}

var _ repository.Store = (*Store)(nil)

func NewStore(c *client.RedisClient) *Store {
	return &Store{client: c}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.client.Key(key))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to read key", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("%w: get %s: %v", repository.ErrUnavailable, key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.client.Key(key), value, ttl); err != nil {
		util.Error("Failed to write key", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("%w: set %s: %v", repository.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.client.Key(k)
	}
	if err := s.client.Del(ctx, full...); err != nil {
		util.Error("Failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("%w: del: %v", repository.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key string, fn repository.UpdateFunc) error {
	fullKey := s.client.Key(key)

	// fnErr carries errors produced by fn so they are not mistaken for
	// transport failures.
	var fnErr error
	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		exists := true
		if errors.Is(err, goredis.Nil) {
			current, exists = nil, false
		} else if err != nil {
			return err
		}

		next, ttl, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
				return nil
			}
			if ttl < 0 {
				ttl = 0
			}
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, fullKey)
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, goredis.TxFailedErr):
			util.Debug("Optimistic update retry", zap.String("key", key), zap.Int("attempt", attempt+1))
			continue
		default:
			util.Error("Failed to update key", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("%w: update %s: %v", repository.ErrUnavailable, key, err)
		}
	}

	util.Warn("Optimistic update gave up", zap.String("key", key), zap.Int("attempts", maxUpdateRetries))
	return fmt.Errorf("%w: %s", repository.ErrConflict, key)
}
