package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// keyPrefix is the Redis key prefix for permit nonces
	keyPrefix = "permit"

	stateReserved = "reserved"
	stateUsed     = "used"
)

// RedisStore implements Store interface using Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based nonce store. A non-positive ttl means DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Reserve attempts to reserve a nonce using SETNX
func (s *RedisStore) Reserve(ctx context.Context, k Key) error {
	key := k.String()

	// SETNX with TTL - only succeeds if key doesn't exist
	ok, err := s.client.SetNX(ctx, key, stateReserved, s.ttl).Result()
	if err != nil {
		s.logger.Error("failed to reserve nonce",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}

	if !ok {
		s.logger.Warn("nonce already used or reserved",
			zap.String("key", key),
		)
		return ErrNonceAlreadyUsed
	}

	s.logger.Debug("nonce reserved",
		zap.String("key", key),
	)
	return nil
}

// MarkUsed marks a reserved nonce as used
func (s *RedisStore) MarkUsed(ctx context.Context, k Key) error {
	key := k.String()

	err := s.client.Set(ctx, key, stateUsed, s.ttl).Err()
	if err != nil {
		s.logger.Error("failed to mark nonce as used",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark nonce as used: %w", err)
	}

	s.logger.Debug("nonce marked as used",
		zap.String("key", key),
	)
	return nil
}

// Release drops a reservation so the nonce can be signed again
func (s *RedisStore) Release(ctx context.Context, k Key) error {
	key := k.String()

	err := s.client.Del(ctx, key).Err()
	if err != nil {
		s.logger.Error("failed to release nonce",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to release nonce: %w", err)
	}

	s.logger.Debug("nonce released",
		zap.String("key", key),
	)
	return nil
}
