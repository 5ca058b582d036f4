// Package draft holds the local value of a field while the user edits it and
// decides when that edit becomes a commit.
package draft

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-tunesync/pkg/cache"
	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

// Phase is the edit state of a field.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseDragging:
		return "dragging"
	case PhaseCommitting:
		return "committing"
	default:
		return "idle"
	}
}

// Policy decides what OnCommit does with a value outside the field range.
type Policy int

const (
	// RejectOutOfRange refuses the commit with a KindInvalidValue error.
	RejectOutOfRange Policy = iota
	// ClampOutOfRange confines the value to the range and commits it.
	ClampOutOfRange
)

// FieldOption configures a Field.
type FieldOption func(*options)

type options struct {
	policy Policy
}

// WithPolicy sets the out-of-range commit policy.
func WithPolicy(p Policy) FieldOption {
	return func(o *options) { o.policy = p }
}

// Field is the draft of one numeric field of record V, bound to that
// record's cache and coordinator.
type Field[V any] struct {
	rt     *cache.ReadThrough[V]
	coord  *cache.Coordinator[V]
	def    records.Field[V]
	policy Policy
	logger zerolog.Logger

	mu       sync.Mutex
	value    float64
	phase    Phase
	gesture  uint64
	deferred bool
	lastGen  uint64

	unsubscribe func()
}

// NewField creates a draft of the field described by def, seeded from the
// current cache entry and kept in sync with it while no gesture is active.
func NewField[V any](
	rt *cache.ReadThrough[V],
	coord *cache.Coordinator[V],
	def records.Field[V],
	logger zerolog.Logger,
	opts ...FieldOption,
) *Field[V] {
	o := options{policy: RejectOutOfRange}
	for _, opt := range opts {
		opt(&o)
	}
	f := &Field[V]{
		rt:     rt,
		coord:  coord,
		def:    def,
		policy: o.policy,
		logger: logger.With().Str("component", "DraftField").Str("key", rt.Key()).Str("field", def.Name).Logger(),
		value:  def.Range.Min,
	}
	f.syncLocked(rt.Peek())
	f.unsubscribe = rt.Subscribe(f.onEntry)
	return f
}

// Name returns the field name.
func (f *Field[V]) Name() string { return f.def.Name }

// Range returns the field range.
func (f *Field[V]) Range() records.Range { return f.def.Range }

// Value returns the draft value currently shown to the user.
func (f *Field[V]) Value() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Phase returns the current edit phase.
func (f *Field[V]) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Deferred reports whether the cache changed during the active gesture.
func (f *Field[V]) Deferred() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred
}

// OnChange records an intermediate value of a gesture. The value is clamped
// and snapped to the field step; nothing is written.
func (f *Field[V]) OnChange(v float64) float64 {
	v = f.def.Range.Clamp(v)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseDragging {
		f.phase = PhaseDragging
		f.gesture++
	}
	f.value = v
	return v
}

// OnCommit ends the gesture and forwards v to the coordinator. On failure
// the draft returns to the authoritative value; on success it keeps the
// committed value until the cache reconciles.
func (f *Field[V]) OnCommit(ctx context.Context, v float64) (cache.Mutation[V], error) {
	if !f.def.Range.Contains(v) && f.policy == RejectOutOfRange {
		err := remote.NewError(remote.KindInvalidValue, "commit", f.rt.Key(),
			fmt.Errorf("%s %v outside [%v, %v]: %w", f.def.Name, v, f.def.Range.Min, f.def.Range.Max, records.ErrOutOfRange))
		f.logger.Warn().Float64("value", v).Msg("Rejected out of range commit.")
		f.Cancel()
		return cache.Mutation[V]{Key: f.rt.Key(), Outcome: cache.OutcomeRejected, Err: err}, err
	}
	v = f.def.Range.Clamp(v)

	f.mu.Lock()
	if f.phase != PhaseDragging {
		f.gesture++
	}
	gesture := f.gesture
	f.phase = PhaseCommitting
	f.value = v
	f.mu.Unlock()

	m, err := f.coord.Update(ctx, func(current V) V {
		return f.def.With(current, v)
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gesture != gesture || f.phase != PhaseCommitting {
		// A new gesture started while this commit was in flight.
		return m, err
	}
	f.phase = PhaseIdle
	if err != nil {
		f.logger.Debug().Err(err).Msg("Commit failed, resetting draft.")
		f.syncLocked(f.rt.Peek())
		return m, err
	}
	f.deferred = false
	f.lastGen = f.rt.Peek().Generation
	return m, nil
}

// Cancel abandons the active gesture and resets the draft to the
// authoritative value.
func (f *Field[V]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == PhaseCommitting {
		return
	}
	f.phase = PhaseIdle
	f.syncLocked(f.rt.Peek())
}

// Close stops following the cache.
func (f *Field[V]) Close() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
}

func (f *Field[V]) onEntry(e cache.Entry[V]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseIdle {
		f.deferred = true
		return
	}
	if e.Generation <= f.lastGen {
		return
	}
	f.syncLocked(e)
}

// syncLocked copies the authoritative value into the draft. f.mu must be
// held, except during construction.
func (f *Field[V]) syncLocked(e cache.Entry[V]) {
	f.deferred = false
	f.lastGen = e.Generation
	if e.Loaded() && e.Present {
		f.value = f.def.Get(e.Value)
	}
}
