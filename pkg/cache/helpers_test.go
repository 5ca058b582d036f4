package cache_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

// fakeSource wraps an in-memory source and lets a test intercept or delay
// individual calls.
type fakeSource[V any] struct {
	store *remote.InMemorySource[V]

	mu      sync.Mutex
	getFunc func(ctx context.Context, key string) (V, bool, error)
	setFunc func(ctx context.Context, key string, value V) error

	gets atomic.Int32
	sets atomic.Int32
}

func newFakeSource[V any]() *fakeSource[V] {
	return &fakeSource[V]{store: remote.NewInMemorySource[V](nil)}
}

func (f *fakeSource[V]) onGet(fn func(ctx context.Context, key string) (V, bool, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFunc = fn
}

func (f *fakeSource[V]) onSet(fn func(ctx context.Context, key string, value V) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setFunc = fn
}

func (f *fakeSource[V]) Get(ctx context.Context, key string) (V, bool, error) {
	f.gets.Add(1)
	f.mu.Lock()
	fn := f.getFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, key)
	}
	return f.store.Get(ctx, key)
}

func (f *fakeSource[V]) Set(ctx context.Context, key string, value V) error {
	f.sets.Add(1)
	f.mu.Lock()
	fn := f.setFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, key, value)
	}
	return f.store.Set(ctx, key, value)
}

func (f *fakeSource[V]) Close() error { return nil }

// seed writes value directly to the backing store without counting a Set.
func (f *fakeSource[V]) seed(key string, value V) {
	_ = f.store.Set(context.Background(), key, value)
}

func (f *fakeSource[V]) stored(key string) (V, bool) {
	v, ok, _ := f.store.Get(context.Background(), key)
	return v, ok
}

var errUnreachable = remote.NewError(remote.KindUnavailable, "", "", context.DeadlineExceeded)
