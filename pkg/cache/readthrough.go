package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

// Option configures a ReadThrough.
type Option[V any] func(*ReadThrough[V])

// WithDefault registers the record written to the source when a fetch finds
// no record. Without it an absent record loads with Present=false.
func WithDefault[V any](fn func() V) Option[V] {
	return func(c *ReadThrough[V]) { c.defaultValue = fn }
}

// WithFetchTimeout bounds each shared fetch. Zero means no bound.
func WithFetchTimeout[V any](d time.Duration) Option[V] {
	return func(c *ReadThrough[V]) { c.fetchTimeout = d }
}

// ReadThrough caches one record and fetches it from the source on a miss.
// Concurrent misses share one fetch.
type ReadThrough[V any] struct {
	key          string
	source       remote.Source[V]
	defaultValue func() V
	fetchTimeout time.Duration
	logger       zerolog.Logger

	group singleflight.Group

	mu        sync.Mutex
	entry     Entry[V]
	pending   int // mutations between optimistic apply and settle
	listeners map[int]func(Entry[V])
	nextID    int
}

// New creates a read-through cache for the record stored under key.
func New[V any](key string, source remote.Source[V], logger zerolog.Logger, opts ...Option[V]) *ReadThrough[V] {
	c := &ReadThrough[V]{
		key:       key,
		source:    source,
		logger:    logger.With().Str("component", "ReadThrough").Str("key", key).Logger(),
		entry:     Entry[V]{Key: key, State: StateIdle},
		listeners: make(map[int]func(Entry[V])),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the record key this cache serves.
func (c *ReadThrough[V]) Key() string { return c.key }

// Get returns the cached entry when it is loaded and fresh. Otherwise it
// fetches from the source, joining a fetch already in flight.
func (c *ReadThrough[V]) Get(ctx context.Context) (Entry[V], error) {
	c.mu.Lock()
	if c.entry.State == StateLoaded && !c.entry.Stale {
		e := c.entry
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(c.key, func() (interface{}, error) {
		return c.load(ctx)
	})
	select {
	case res := <-ch:
		e, _ := res.Val.(Entry[V])
		return e, res.Err
	case <-ctx.Done():
		return c.Peek(), remote.Wrap("get", c.key, ctx.Err())
	}
}

// Peek returns the current entry without fetching.
func (c *ReadThrough[V]) Peek() Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

// Invalidate marks a loaded entry stale so the next Get re-fetches it.
func (c *ReadThrough[V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry.State == StateLoaded {
		c.entry.Stale = true
	}
}

// Refresh forces a re-fetch from the source.
func (c *ReadThrough[V]) Refresh(ctx context.Context) (Entry[V], error) {
	c.Invalidate()
	return c.Get(ctx)
}

// Subscribe registers fn to receive every entry change. The returned func
// removes the subscription.
func (c *ReadThrough[V]) Subscribe(fn func(Entry[V])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// load runs once per shared fetch. It is detached from the first caller's
// cancellation since other callers may be waiting on it.
func (c *ReadThrough[V]) load(parent context.Context) (Entry[V], error) {
	// A caller can reach here just after another shared fetch settled.
	c.mu.Lock()
	if c.entry.State == StateLoaded && !c.entry.Stale {
		e := c.entry
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	ctx := context.WithoutCancel(parent)
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	gen := c.beginFetch()
	recordFetch(c.key)

	value, found, err := c.source.Get(ctx, c.key)
	if err != nil {
		err = remote.Wrap("get", c.key, err)
		recordFetchError(c.key)
		c.logger.Error().Err(err).Msg("Fetch failed.")
		return c.settleFetch(gen, func(e *Entry[V]) {
			e.State = StateErrored
			e.Err = err
		}, err)
	}

	if !found && c.defaultValue != nil {
		def := c.defaultValue()
		if err := c.source.Set(ctx, c.key, def); err != nil {
			err = remote.Wrap("set default", c.key, err)
			recordFetchError(c.key)
			c.logger.Error().Err(err).Msg("Failed to persist default record.")
			return c.settleFetch(gen, func(e *Entry[V]) {
				e.State = StateErrored
				e.Err = err
			}, err)
		}
		recordDefault(c.key)
		c.logger.Info().Msg("Record absent, persisted default.")
		value, found = def, true
	}

	return c.settleFetch(gen, func(e *Entry[V]) {
		e.Value = value
		e.Present = found
		e.State = StateLoaded
		e.Err = nil
		e.Stale = false
	}, nil)
}

func (c *ReadThrough[V]) beginFetch() uint64 {
	c.mu.Lock()
	if c.entry.State == StateLoaded {
		gen := c.entry.Generation
		c.mu.Unlock()
		return gen
	}
	c.entry.State = StateLoading
	c.entry.Err = nil
	c.entry.Generation++
	c.entry.UpdatedAt = time.Now()
	e := c.entry
	c.mu.Unlock()

	c.notify(e)
	return e.Generation
}

// settleFetch applies a fetch outcome unless the entry moved on since the
// fetch began or a mutation is in flight. A discarded outcome reports the
// current entry and no error.
func (c *ReadThrough[V]) settleFetch(gen uint64, apply func(*Entry[V]), err error) (Entry[V], error) {
	c.mu.Lock()
	if c.entry.Generation != gen || c.pending > 0 {
		e := c.entry
		c.mu.Unlock()
		c.logger.Debug().Uint64("fetch_generation", gen).Uint64("generation", e.Generation).Msg("Discarding superseded fetch result.")
		return e, nil
	}
	apply(&c.entry)
	c.entry.Generation++
	c.entry.UpdatedAt = time.Now()
	e := c.entry
	c.mu.Unlock()

	c.notify(e)
	return e, err
}

// beginMutation snapshots the current value and overwrites it with the
// value derived by next. It refuses entries that are not loaded.
func (c *ReadThrough[V]) beginMutation(next func(current V) (V, error)) (prior V, priorPresent bool, value V, gen uint64, err error) {
	c.mu.Lock()
	if c.entry.State != StateLoaded {
		state := c.entry.State
		c.mu.Unlock()
		return prior, false, value, 0, remote.NewError(remote.KindNotLoaded, "commit", c.key, fmt.Errorf("entry is %s", state))
	}
	prior, priorPresent = c.entry.Value, c.entry.Present
	value, err = next(prior)
	if err != nil {
		c.mu.Unlock()
		return prior, priorPresent, value, 0, err
	}
	c.entry.Value = value
	c.entry.Present = true
	c.entry.Generation++
	c.entry.UpdatedAt = time.Now()
	c.pending++
	e := c.entry
	c.mu.Unlock()

	c.notify(e)
	return prior, priorPresent, value, e.Generation, nil
}

// settleMutation closes a mutation begun at gen. A failed mutation restores
// prior only if no later write replaced its value; superseded reports that
// it did not. Either way the entry is left stale for reconciliation.
func (c *ReadThrough[V]) settleMutation(gen uint64, ok bool, prior V, priorPresent bool) (superseded bool, current Entry[V]) {
	c.mu.Lock()
	c.pending--
	changed := false
	if !ok {
		if c.entry.Generation == gen {
			c.entry.Value = prior
			c.entry.Present = priorPresent
			c.entry.Generation++
			c.entry.UpdatedAt = time.Now()
			changed = true
		} else {
			superseded = true
		}
	}
	if c.entry.State == StateLoaded {
		c.entry.Stale = true
	}
	e := c.entry
	c.mu.Unlock()

	if changed {
		c.notify(e)
	}
	return superseded, e
}

func (c *ReadThrough[V]) notify(e Entry[V]) {
	c.mu.Lock()
	fns := make([]func(Entry[V]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
