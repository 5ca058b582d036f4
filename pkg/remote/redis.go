package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisSource is a Source that stores each record as a JSON string. Records
// are configuration, so they are written without expiry.
type RedisSource[V any] struct {
	redisClient *redis.Client
	ownsClient  bool
	prefix      string
	logger      zerolog.Logger
}

// NewRedisClient dials Redis and pings it to ensure connectivity before
// returning. Sources sharing one connection are built from it with
// NewRedisSourceFromClient.
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return rdb, nil
}

// NewRedisSource creates a RedisSource with its own connection, closed by
// Close.
func NewRedisSource[V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisSource[V], error) {
	rdb, err := NewRedisClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	src := NewRedisSourceFromClient[V](rdb, cfg.KeyPrefix, logger)
	src.ownsClient = true
	return src, nil
}

// NewRedisSourceFromClient builds a RedisSource over a shared client. The
// client is not closed by Close.
func NewRedisSourceFromClient[V any](client *redis.Client, keyPrefix string, logger zerolog.Logger) *RedisSource[V] {
	return &RedisSource[V]{
		redisClient: client,
		prefix:      keyPrefix,
		logger:      logger.With().Str("component", "RedisSource").Logger(),
	}
}

func (s *RedisSource[V]) redisKey(key string) string {
	return s.prefix + key
}

// Get retrieves and decodes the record stored under key.
func (s *RedisSource[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := s.redisClient.Get(ctx, s.redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug().Str("key", key).Msg("Record not found in Redis.")
			return zero, false, nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return zero, false, NewError(kindFromRedis(err), "get", key, err)
	}

	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal record.")
		return zero, false, NewError(KindUnknown, "get", key, fmt.Errorf("failed to unmarshal data: %w", err))
	}
	return value, true, nil
}

// Set encodes value and stores it under key.
func (s *RedisSource[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return NewError(KindInvalidValue, "set", key, fmt.Errorf("failed to marshal data: %w", err))
	}
	if err := s.redisClient.Set(ctx, s.redisKey(key), data, 0).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set record in Redis.")
		return NewError(kindFromRedis(err), "set", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("Successfully stored record in Redis.")
	return nil
}

// Close closes the Redis client connection when this source created it.
func (s *RedisSource[V]) Close() error {
	if s.ownsClient && s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}

func kindFromRedis(err error) Kind {
	msg := err.Error()
	for _, prefix := range []string{"NOPERM", "NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return KindUnauthorized
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return KindUnavailable
	}
	return KindOf(err)
}
