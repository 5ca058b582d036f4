package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_Matching(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	err := fmt.Errorf("commit tuning: %w", NewError(KindUnavailable, "set", "tuningConfig", cause))

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, "commit tuning: set tuningConfig: unavailable: "+cause.Error(), err.Error())
}

func TestError_NoCause(t *testing.T) {
	err := NewError(KindNotLoaded, "commit", "throttleSetting", nil)

	assert.Equal(t, "commit throttleSetting: not loaded", err.Error())
	assert.True(t, errors.Is(err, ErrNotLoaded))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnavailable, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnavailable, KindOf(fmt.Errorf("wrapped: %w", context.Canceled)))
}

func TestWrap(t *testing.T) {
	t.Run("Nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap("get", "k", nil))
	})

	t.Run("Plain errors are classified", func(t *testing.T) {
		err := Wrap("get", "k", context.DeadlineExceeded)

		var re *Error
		assert.True(t, errors.As(err, &re))
		assert.Equal(t, KindUnavailable, re.Kind)
		assert.Equal(t, "get", re.Op)
		assert.Equal(t, "k", re.Key)
	})

	t.Run("An error that names its operation is kept", func(t *testing.T) {
		inner := NewError(KindUnauthorized, "set", "k", nil)

		assert.Same(t, inner, Wrap("set default", "k", inner))
	})

	t.Run("An anonymous error gains the operation", func(t *testing.T) {
		inner := NewError(KindInvalidValue, "", "", io.ErrUnexpectedEOF)
		err := Wrap("set", "k", inner)

		assert.Equal(t, "set k: invalid value: unexpected EOF", err.Error())
		assert.True(t, errors.Is(err, ErrInvalidValue))
	})
}

func TestKindFromStatus(t *testing.T) {
	tests := []struct {
		code codes.Code
		want Kind
	}{
		{codes.Unavailable, KindUnavailable},
		{codes.DeadlineExceeded, KindUnavailable},
		{codes.PermissionDenied, KindUnauthorized},
		{codes.Unauthenticated, KindUnauthorized},
		{codes.InvalidArgument, KindInvalidValue},
		{codes.FailedPrecondition, KindInvalidValue},
		{codes.Internal, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, kindFromStatus(status.Error(tt.code, "x")))
		})
	}
}

func TestKindFromRedis(t *testing.T) {
	assert.Equal(t, KindUnauthorized, kindFromRedis(errors.New("NOPERM this user has no permissions to run the 'set' command")))
	assert.Equal(t, KindUnauthorized, kindFromRedis(errors.New("WRONGPASS invalid username-password pair")))
	assert.Equal(t, KindUnavailable, kindFromRedis(io.EOF))
	assert.Equal(t, KindUnavailable, kindFromRedis(redis.ErrClosed))
	assert.Equal(t, KindUnknown, kindFromRedis(errors.New("ERR syntax error")))
}
