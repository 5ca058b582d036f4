// Package remote defines the boundary to the remote config service and the
// adapters that reach it.
package remote

import (
	"context"
	"io"
)

// Source is the contract to the remote config service for one record type.
// Get reports found=false, with a nil error, when no record exists for key.
type Source[V any] interface {
	Get(ctx context.Context, key string) (value V, found bool, err error)
	Set(ctx context.Context, key string, value V) error
	io.Closer
}

// Validator rejects values that a source must not accept.
type Validator[V any] func(value V) error
