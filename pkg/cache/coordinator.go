package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

// Outcome is the settlement state of a mutation.
type Outcome int

const (
	OutcomeInFlight Outcome = iota
	OutcomeCommitted
	OutcomeRolledBack
	// OutcomeRejected means the mutation never reached the cache or the source.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled back"
	case OutcomeRejected:
		return "rejected"
	default:
		return "in flight"
	}
}

// Mutation describes one optimistic write and how it settled.
//
// Prior is the cache value captured immediately before this mutation's
// optimistic write. Superseded is set on a failed mutation whose value had
// already been replaced by a later write, in which case the cache was left
// holding the later value instead of Prior.
type Mutation[V any] struct {
	ID           uuid.UUID
	Key          string
	Prior        V
	PriorPresent bool
	Value        V
	Outcome      Outcome
	Superseded   bool
	Err          error
	StartedAt    time.Time
	SettledAt    time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption[V any] func(*Coordinator[V])

// WithValidator rejects values before they are applied to the cache.
func WithValidator[V any](validate remote.Validator[V]) CoordinatorOption[V] {
	return func(c *Coordinator[V]) { c.validate = validate }
}

// WithWriteTimeout bounds each source write. Zero means no bound.
func WithWriteTimeout[V any](d time.Duration) CoordinatorOption[V] {
	return func(c *Coordinator[V]) { c.writeTimeout = d }
}

// OnCommitted registers a hook run after each committed mutation.
func OnCommitted[V any](hook func(ctx context.Context, m Mutation[V])) CoordinatorOption[V] {
	return func(c *Coordinator[V]) { c.hooks = append(c.hooks, hook) }
}

// Coordinator applies writes to a ReadThrough optimistically and reconciles
// them once the source write settles. It is the only writer of the cache
// value outside of fetches.
type Coordinator[V any] struct {
	rt           *ReadThrough[V]
	validate     remote.Validator[V]
	writeTimeout time.Duration
	logger       zerolog.Logger

	hooksMu     sync.RWMutex
	hooks       []func(ctx context.Context, m Mutation[V])
	settleHooks []func(ctx context.Context, m Mutation[V])

	inFlight atomic.Int32
}

// NewCoordinator creates a coordinator writing through rt's source.
func NewCoordinator[V any](rt *ReadThrough[V], logger zerolog.Logger, opts ...CoordinatorOption[V]) *Coordinator[V] {
	c := &Coordinator[V]{
		rt:     rt,
		logger: logger.With().Str("component", "Coordinator").Str("key", rt.key).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddCommitHook registers a hook after construction.
func (c *Coordinator[V]) AddCommitHook(hook func(ctx context.Context, m Mutation[V])) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// AddSettleHook registers a hook run after every mutation that reached the
// source, committed or rolled back. Rejected mutations are not reported.
func (c *Coordinator[V]) AddSettleHook(hook func(ctx context.Context, m Mutation[V])) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.settleHooks = append(c.settleHooks, hook)
}

// Cache returns the cache this coordinator writes to.
func (c *Coordinator[V]) Cache() *ReadThrough[V] { return c.rt }

// InFlight reports the number of unsettled mutations.
func (c *Coordinator[V]) InFlight() int { return int(c.inFlight.Load()) }

// Commit replaces the whole record with v.
func (c *Coordinator[V]) Commit(ctx context.Context, v V) (Mutation[V], error) {
	return c.Update(ctx, func(V) V { return v })
}

// Update derives the new record from the current cached value, applies it
// optimistically and writes it to the source. On a failed write the prior
// value is restored and the error returned. The returned Mutation reports
// the outcome in every case.
func (c *Coordinator[V]) Update(ctx context.Context, fn func(current V) V) (Mutation[V], error) {
	m := Mutation[V]{
		ID:        uuid.New(),
		Key:       c.rt.key,
		Outcome:   OutcomeInFlight,
		StartedAt: time.Now(),
	}

	prior, priorPresent, value, gen, err := c.rt.beginMutation(func(current V) (V, error) {
		next := fn(current)
		if c.validate != nil {
			if verr := c.validate(next); verr != nil {
				return next, remote.NewError(remote.KindInvalidValue, "commit", c.rt.key, verr)
			}
		}
		return next, nil
	})
	m.Prior, m.PriorPresent, m.Value = prior, priorPresent, value
	if err != nil {
		m.Outcome = OutcomeRejected
		m.Err = err
		m.SettledAt = time.Now()
		c.logger.Warn().Err(err).Str("mutation_id", m.ID.String()).Msg("Mutation rejected.")
		return m, err
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	writeCtx := ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}

	c.logger.Debug().Str("mutation_id", m.ID.String()).Uint64("generation", gen).Msg("Applied optimistic write, writing to source.")
	setErr := c.rt.source.Set(writeCtx, c.rt.key, value)

	superseded, _ := c.rt.settleMutation(gen, setErr == nil, prior, priorPresent)
	m.SettledAt = time.Now()

	if setErr != nil {
		m.Outcome = OutcomeRolledBack
		m.Superseded = superseded
		m.Err = remote.Wrap("set", c.rt.key, setErr)
		recordRollback(c.rt.key)
		c.logger.Error().Err(m.Err).
			Str("mutation_id", m.ID.String()).
			Bool("superseded", superseded).
			Msg("Source write failed, rolled back.")
		c.runHooks(ctx, m)
		return m, m.Err
	}

	m.Outcome = OutcomeCommitted
	recordCommit(c.rt.key)
	c.logger.Info().Str("mutation_id", m.ID.String()).Msg("Mutation committed.")

	c.runHooks(ctx, m)
	return m, nil
}

func (c *Coordinator[V]) runHooks(ctx context.Context, m Mutation[V]) {
	c.hooksMu.RLock()
	var hooks []func(context.Context, Mutation[V])
	if m.Outcome == OutcomeCommitted {
		hooks = append(hooks, c.hooks...)
	}
	hooks = append(hooks, c.settleHooks...)
	c.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, m)
	}
}
