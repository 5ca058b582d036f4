package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rdb, err := remote.NewRedisClient(ctx, &remote.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())

	require.Error(t, err)
	assert.Nil(t, rdb)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestRedisSourceFromClient_LeavesSharedClientOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	tuning := remote.NewRedisSourceFromClient[records.TuningConfig](rdb, "tunesync:", zerolog.Nop())
	throttle := remote.NewRedisSourceFromClient[records.ThrottleSetting](rdb, "tunesync:", zerolog.Nop())

	require.NoError(t, tuning.Close())
	require.NoError(t, throttle.Close())

	assert.NoError(t, rdb.Close(), "the owner closes the shared client exactly once")
}
