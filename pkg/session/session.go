// Package session owns the cache and coordinator of every settings record
// for the lifetime of one client session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-tunesync/pkg/cache"
	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

// Sources holds one remote source per record.
type Sources struct {
	Tuning        remote.Source[records.TuningConfig]
	FuelInjection remote.Source[records.FuelInjectionSettings]
	Scooter       remote.Source[records.ScooterTuning]
	Throttle      remote.Source[records.ThrottleSetting]
}

// Options tunes every record pair in the session.
type Options struct {
	FetchTimeout time.Duration
	WriteTimeout time.Duration
}

// Record pairs the cache of one record with its coordinator.
type Record[V any] struct {
	Cache       *cache.ReadThrough[V]
	Coordinator *cache.Coordinator[V]
}

func newRecord[V any](key records.Key, src remote.Source[V], validate remote.Validator[V], opts Options, logger zerolog.Logger, cacheOpts ...cache.Option[V]) Record[V] {
	cacheOpts = append(cacheOpts, cache.WithFetchTimeout[V](opts.FetchTimeout))
	rt := cache.New[V](string(key), src, logger, cacheOpts...)
	coord := cache.NewCoordinator[V](rt, logger,
		cache.WithValidator[V](validate),
		cache.WithWriteTimeout[V](opts.WriteTimeout),
	)
	return Record[V]{Cache: rt, Coordinator: coord}
}

// CommitHook is notified after any record commits.
type CommitHook func(ctx context.Context, key records.Key, mutationID uuid.UUID)

// Settlement is a record-independent summary of a mutation that reached
// the source.
type Settlement struct {
	Key        records.Key
	ID         uuid.UUID
	Outcome    cache.Outcome
	Superseded bool
	Prior      any
	Value      any
	Err        error
	StartedAt  time.Time
	SettledAt  time.Time
}

// SettleHook is notified after any record's mutation commits or rolls back.
type SettleHook func(ctx context.Context, s Settlement)

func settlementOf[V any](key records.Key, m cache.Mutation[V]) Settlement {
	s := Settlement{
		Key:        key,
		ID:         m.ID,
		Outcome:    m.Outcome,
		Superseded: m.Superseded,
		Value:      m.Value,
		Err:        m.Err,
		StartedAt:  m.StartedAt,
		SettledAt:  m.SettledAt,
	}
	if m.PriorPresent {
		s.Prior = m.Prior
	}
	return s
}

// Session is the explicit, shared handle to the settings caches.
type Session struct {
	Tuning        Record[records.TuningConfig]
	FuelInjection Record[records.FuelInjectionSettings]
	Scooter       Record[records.ScooterTuning]
	Throttle      Record[records.ThrottleSetting]

	sources Sources
	logger  zerolog.Logger
}

// New builds a session over sources. throttleSetting is registered without
// a default, so an absent throttle record stays absent.
func New(sources Sources, opts Options, logger zerolog.Logger) (*Session, error) {
	if sources.Tuning == nil || sources.FuelInjection == nil || sources.Scooter == nil || sources.Throttle == nil {
		return nil, errors.New("session requires a source for every record")
	}
	s := &Session{
		sources: sources,
		logger:  logger.With().Str("component", "Session").Logger(),
	}
	s.Tuning = newRecord(records.KeyTuningConfig, sources.Tuning, records.TuningConfig.Validate, opts, logger,
		cache.WithDefault(records.DefaultTuningConfig))
	s.FuelInjection = newRecord(records.KeyFuelInjectionSettings, sources.FuelInjection, records.FuelInjectionSettings.Validate, opts, logger,
		cache.WithDefault(records.DefaultFuelInjectionSettings))
	s.Scooter = newRecord(records.KeyScooterTuningConfig, sources.Scooter, records.ScooterTuning.Validate, opts, logger,
		cache.WithDefault(records.DefaultScooterTuning))
	s.Throttle = newRecord(records.KeyThrottleSetting, sources.Throttle, records.ThrottleSetting.Validate, opts, logger)
	return s, nil
}

// Load fetches every record in parallel. Each record loads independently;
// the first failure is returned once all have settled.
func (s *Session) Load(ctx context.Context) error {
	return s.each(func(key records.Key) error {
		_, err := s.get(ctx, key)
		return err
	})
}

// Refresh re-fetches every record in parallel.
func (s *Session) Refresh(ctx context.Context) error {
	return s.each(func(key records.Key) error {
		return s.InvalidateKey(ctx, key)
	})
}

func (s *Session) each(fn func(key records.Key) error) error {
	var g errgroup.Group
	for _, key := range records.Keys {
		g.Go(func() error { return fn(key) })
	}
	return g.Wait()
}

// InvalidateKey marks the record stale and re-fetches it.
func (s *Session) InvalidateKey(ctx context.Context, key records.Key) error {
	switch key {
	case records.KeyTuningConfig:
		_, err := s.Tuning.Cache.Refresh(ctx)
		return err
	case records.KeyFuelInjectionSettings:
		_, err := s.FuelInjection.Cache.Refresh(ctx)
		return err
	case records.KeyScooterTuningConfig:
		_, err := s.Scooter.Cache.Refresh(ctx)
		return err
	case records.KeyThrottleSetting:
		_, err := s.Throttle.Cache.Refresh(ctx)
		return err
	}
	return unknownKey(key)
}

// OnCommit registers hook on every record's coordinator.
func (s *Session) OnCommit(hook CommitHook) {
	s.Tuning.Coordinator.AddCommitHook(func(ctx context.Context, m cache.Mutation[records.TuningConfig]) {
		hook(ctx, records.KeyTuningConfig, m.ID)
	})
	s.FuelInjection.Coordinator.AddCommitHook(func(ctx context.Context, m cache.Mutation[records.FuelInjectionSettings]) {
		hook(ctx, records.KeyFuelInjectionSettings, m.ID)
	})
	s.Scooter.Coordinator.AddCommitHook(func(ctx context.Context, m cache.Mutation[records.ScooterTuning]) {
		hook(ctx, records.KeyScooterTuningConfig, m.ID)
	})
	s.Throttle.Coordinator.AddCommitHook(func(ctx context.Context, m cache.Mutation[records.ThrottleSetting]) {
		hook(ctx, records.KeyThrottleSetting, m.ID)
	})
}

// OnSettle registers hook for committed and rolled back mutations of every
// record.
func (s *Session) OnSettle(hook SettleHook) {
	s.Tuning.Coordinator.AddSettleHook(func(ctx context.Context, m cache.Mutation[records.TuningConfig]) {
		hook(ctx, settlementOf(records.KeyTuningConfig, m))
	})
	s.FuelInjection.Coordinator.AddSettleHook(func(ctx context.Context, m cache.Mutation[records.FuelInjectionSettings]) {
		hook(ctx, settlementOf(records.KeyFuelInjectionSettings, m))
	})
	s.Scooter.Coordinator.AddSettleHook(func(ctx context.Context, m cache.Mutation[records.ScooterTuning]) {
		hook(ctx, settlementOf(records.KeyScooterTuningConfig, m))
	})
	s.Throttle.Coordinator.AddSettleHook(func(ctx context.Context, m cache.Mutation[records.ThrottleSetting]) {
		hook(ctx, settlementOf(records.KeyThrottleSetting, m))
	})
}

// SetDriveMode changes only the drive mode of the tuning record.
func (s *Session) SetDriveMode(ctx context.Context, mode records.DriveMode) (cache.Mutation[records.TuningConfig], error) {
	if !mode.Valid() {
		err := remote.NewError(remote.KindInvalidValue, "set drive mode", string(records.KeyTuningConfig),
			fmt.Errorf("drive mode %q: %w", mode, records.ErrOutOfRange))
		return cache.Mutation[records.TuningConfig]{Key: string(records.KeyTuningConfig), Outcome: cache.OutcomeRejected, Err: err}, err
	}
	return s.Tuning.Coordinator.Update(ctx, func(c records.TuningConfig) records.TuningConfig {
		c.DriveMode = mode
		return c
	})
}

// SetTuningParameters replaces the tuning parameters and keeps the drive mode.
func (s *Session) SetTuningParameters(ctx context.Context, params records.TuningParameters) (cache.Mutation[records.TuningConfig], error) {
	return s.Tuning.Coordinator.Update(ctx, func(c records.TuningConfig) records.TuningConfig {
		c.TuningParams = params
		return c
	})
}

// SetFields commits the named numeric fields of one record in a single
// mutation. Every value must lie on its field's range and step.
func (s *Session) SetFields(ctx context.Context, key records.Key, values map[string]float64) (uuid.UUID, error) {
	switch key {
	case records.KeyTuningConfig:
		return updateFields(ctx, s.Tuning, records.TuningFields, values)
	case records.KeyFuelInjectionSettings:
		return updateFields(ctx, s.FuelInjection, records.FuelInjectionFields, values)
	case records.KeyScooterTuningConfig:
		return updateFields(ctx, s.Scooter, records.ScooterFields, values)
	case records.KeyThrottleSetting:
		return updateFields(ctx, s.Throttle, records.ThrottleFields, values)
	}
	return uuid.Nil, unknownKey(key)
}

func updateFields[V any](ctx context.Context, rec Record[V], fields []records.Field[V], values map[string]float64) (uuid.UUID, error) {
	key := rec.Cache.Key()
	if len(values) == 0 {
		return uuid.Nil, remote.NewError(remote.KindInvalidValue, "set", key, errors.New("no fields given"))
	}
	selected := make([]records.Field[V], 0, len(values))
	for name, v := range values {
		f, ok := records.Lookup(fields, name)
		if !ok {
			return uuid.Nil, remote.NewError(remote.KindInvalidValue, "set", key, fmt.Errorf("unknown field %q", name))
		}
		if err := f.Check(v); err != nil {
			return uuid.Nil, remote.NewError(remote.KindInvalidValue, "set", key, err)
		}
		selected = append(selected, f)
	}
	if _, err := rec.Cache.Get(ctx); err != nil {
		return uuid.Nil, err
	}
	m, err := rec.Coordinator.Update(ctx, func(current V) V {
		for _, f := range selected {
			current = f.With(current, values[f.Name])
		}
		return current
	})
	return m.ID, err
}

// View is a JSON friendly snapshot of one cache entry.
type View struct {
	Key        string    `json:"key"`
	State      string    `json:"state"`
	Present    bool      `json:"present"`
	Stale      bool      `json:"stale"`
	Generation uint64    `json:"generation"`
	Value      any       `json:"value,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func viewOf[V any](e cache.Entry[V]) View {
	v := View{
		Key:        e.Key,
		State:      e.State.String(),
		Present:    e.Present,
		Stale:      e.Stale,
		Generation: e.Generation,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.Present {
		v.Value = e.Value
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}

// Get reads one record through its cache.
func (s *Session) Get(ctx context.Context, key records.Key) (View, error) {
	return s.get(ctx, key)
}

func (s *Session) get(ctx context.Context, key records.Key) (View, error) {
	switch key {
	case records.KeyTuningConfig:
		e, err := s.Tuning.Cache.Get(ctx)
		return viewOf(e), err
	case records.KeyFuelInjectionSettings:
		e, err := s.FuelInjection.Cache.Get(ctx)
		return viewOf(e), err
	case records.KeyScooterTuningConfig:
		e, err := s.Scooter.Cache.Get(ctx)
		return viewOf(e), err
	case records.KeyThrottleSetting:
		e, err := s.Throttle.Cache.Get(ctx)
		return viewOf(e), err
	}
	return View{Key: string(key)}, unknownKey(key)
}

// Snapshot returns the current entry of every record, in key order, without
// fetching.
func (s *Session) Snapshot() []View {
	return []View{
		viewOf(s.Tuning.Cache.Peek()),
		viewOf(s.FuelInjection.Cache.Peek()),
		viewOf(s.Scooter.Cache.Peek()),
		viewOf(s.Throttle.Cache.Peek()),
	}
}

// Close closes every source.
func (s *Session) Close() error {
	s.logger.Info().Msg("Closing session sources...")
	return errors.Join(
		s.sources.Tuning.Close(),
		s.sources.FuelInjection.Close(),
		s.sources.Scooter.Close(),
		s.sources.Throttle.Close(),
	)
}

func unknownKey(key records.Key) error {
	return remote.NewError(remote.KindInvalidValue, "lookup", string(key), errors.New("unknown record key"))
}
