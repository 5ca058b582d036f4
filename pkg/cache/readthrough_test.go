package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-tunesync/pkg/cache"
	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
)

func TestReadThrough_Get(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("Empty store synthesizes and persists the default", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.TuningConfig]()
		rt := cache.New[records.TuningConfig](string(records.KeyTuningConfig), src, logger,
			cache.WithDefault(records.DefaultTuningConfig))

		// Act
		entry, err := rt.Get(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, cache.StateLoaded, entry.State)
		assert.True(t, entry.Present)
		assert.Equal(t, records.DriveModeClassic, entry.Value.DriveMode)
		assert.Equal(t, records.TuningParameters{
			SuspensionStiffness: 5.0,
			SteeringSensitivity: 5.0,
			ThrottleResponse:    5.0,
			BrakeBias:           5.0,
		}, entry.Value.TuningParams)

		stored, ok := src.stored(string(records.KeyTuningConfig))
		require.True(t, ok, "default should have been persisted")
		assert.Equal(t, records.DefaultTuningConfig(), stored)
		assert.Equal(t, int32(1), src.sets.Load())
	})

	t.Run("Concurrent gets on an empty store persist the default once", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.ScooterTuning]()
		release := make(chan struct{})
		src.onGet(func(ctx context.Context, key string) (records.ScooterTuning, bool, error) {
			<-release
			return records.ScooterTuning{}, false, nil
		})
		rt := cache.New[records.ScooterTuning](string(records.KeyScooterTuningConfig), src, logger,
			cache.WithDefault(records.DefaultScooterTuning))

		// Act
		const callers = 25
		var wg sync.WaitGroup
		results := make([]cache.Entry[records.ScooterTuning], callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = rt.Get(ctx)
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), src.gets.Load(), "all callers should share one fetch")
		assert.Equal(t, int32(1), src.sets.Load(), "the default should be written exactly once")
		for _, e := range results {
			assert.Equal(t, records.DefaultScooterTuning(), e.Value)
		}
	})

	t.Run("Concurrent gets share one outbound fetch", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.FuelInjectionSettings]()
		src.seed(string(records.KeyFuelInjectionSettings), records.FuelInjectionSettings{Amount: 70, Pressure: 400, Temperature: 30})
		rt := cache.New[records.FuelInjectionSettings](string(records.KeyFuelInjectionSettings), src, logger)

		// Act
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = rt.Get(ctx)
			}()
		}
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), src.gets.Load())
		assert.Equal(t, int32(0), src.sets.Load())
		assert.Equal(t, 70.0, rt.Peek().Value.Amount)
	})

	t.Run("Absent throttle without default loads as not present", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.ThrottleSetting]()
		rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, logger)

		// Act
		entry, err := rt.Get(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, cache.StateLoaded, entry.State)
		assert.False(t, entry.Present)
		assert.Equal(t, int32(0), src.sets.Load(), "no default should be written")
	})

	t.Run("Fetch failure marks the entry errored without a default", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.TuningConfig]()
		src.onGet(func(ctx context.Context, key string) (records.TuningConfig, bool, error) {
			return records.TuningConfig{}, false, errors.New("connection refused")
		})
		rt := cache.New[records.TuningConfig](string(records.KeyTuningConfig), src, logger,
			cache.WithDefault(records.DefaultTuningConfig))

		// Act
		entry, err := rt.Get(ctx)

		// Assert
		require.Error(t, err)
		assert.Equal(t, cache.StateErrored, entry.State)
		assert.Equal(t, err, entry.Err)
		assert.False(t, entry.Present)
		assert.Equal(t, int32(0), src.sets.Load())
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("Errored entry fetches again on the next get", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.TuningConfig]()
		src.onGet(func(ctx context.Context, key string) (records.TuningConfig, bool, error) {
			return records.TuningConfig{}, false, errUnreachable
		})
		rt := cache.New[records.TuningConfig](string(records.KeyTuningConfig), src, logger)
		_, err := rt.Get(ctx)
		require.True(t, errors.Is(err, remote.ErrUnavailable))

		// Act
		src.seed(string(records.KeyTuningConfig), records.DefaultTuningConfig())
		src.onGet(nil)
		entry, err := rt.Get(ctx)

		// Assert
		require.NoError(t, err)
		assert.True(t, entry.Loaded())
		assert.Nil(t, entry.Err)
		assert.Equal(t, int32(2), src.gets.Load())
	})

	t.Run("Failed default write is not cached", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.FuelInjectionSettings]()
		src.onSet(func(ctx context.Context, key string, value records.FuelInjectionSettings) error {
			return remote.NewError(remote.KindUnauthorized, "set", key, nil)
		})
		rt := cache.New[records.FuelInjectionSettings](string(records.KeyFuelInjectionSettings), src, logger,
			cache.WithDefault(records.DefaultFuelInjectionSettings))

		// Act
		entry, err := rt.Get(ctx)

		// Assert
		require.Error(t, err)
		assert.True(t, errors.Is(err, remote.ErrUnauthorized))
		assert.Equal(t, cache.StateErrored, entry.State)
		assert.False(t, entry.Present)
		assert.Equal(t, records.FuelInjectionSettings{}, entry.Value)
	})

	t.Run("Caller cancellation does not abort the shared fetch", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.ThrottleSetting]()
		src.seed(string(records.KeyThrottleSetting), 4)
		release := make(chan struct{})
		src.onGet(func(ctx context.Context, key string) (records.ThrottleSetting, bool, error) {
			<-release
			return src.store.Get(ctx, key)
		})
		rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, logger)
		cctx, cancel := context.WithCancel(ctx)

		// Act
		done := make(chan error, 1)
		go func() {
			_, err := rt.Get(cctx)
			done <- err
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		err := <-done
		close(release)

		// Assert
		require.Error(t, err)
		assert.True(t, errors.Is(err, remote.ErrUnavailable))
		require.Eventually(t, func() bool { return rt.Peek().Loaded() }, time.Second, 5*time.Millisecond)
		assert.Equal(t, records.ThrottleSetting(4), rt.Peek().Value)
	})
}

func TestReadThrough_Invalidate(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("Invalidated entry re-fetches on next get", func(t *testing.T) {
		// Arrange
		src := newFakeSource[records.ThrottleSetting]()
		src.seed(string(records.KeyThrottleSetting), 3)
		rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, logger)
		_, err := rt.Get(ctx)
		require.NoError(t, err)

		// Act
		src.seed(string(records.KeyThrottleSetting), 8)
		cached, _ := rt.Get(ctx)
		rt.Invalidate()
		assert.True(t, rt.Peek().Stale)
		fresh, err := rt.Get(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, records.ThrottleSetting(3), cached.Value, "a fresh entry is served from cache")
		assert.Equal(t, records.ThrottleSetting(8), fresh.Value)
		assert.False(t, fresh.Stale)
		assert.Equal(t, int32(2), src.gets.Load())
	})

	t.Run("Invalidate before load is a no-op", func(t *testing.T) {
		src := newFakeSource[records.ThrottleSetting]()
		rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, logger)

		rt.Invalidate()

		assert.Equal(t, cache.StateIdle, rt.Peek().State)
		assert.False(t, rt.Peek().Stale)
	})

	t.Run("Refresh forces a fetch", func(t *testing.T) {
		src := newFakeSource[records.ThrottleSetting]()
		src.seed(string(records.KeyThrottleSetting), 3)
		rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, logger)
		_, err := rt.Get(ctx)
		require.NoError(t, err)

		src.seed(string(records.KeyThrottleSetting), 6)
		entry, err := rt.Refresh(ctx)

		require.NoError(t, err)
		assert.Equal(t, records.ThrottleSetting(6), entry.Value)
	})
}

func TestReadThrough_SupersededFetch(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	// Arrange
	src := newFakeSource[records.ScooterTuning]()
	src.seed(string(records.KeyScooterTuningConfig), records.DefaultScooterTuning())
	rt := cache.New[records.ScooterTuning](string(records.KeyScooterTuningConfig), src, logger)
	coord := cache.NewCoordinator[records.ScooterTuning](rt, logger)
	_, err := rt.Get(ctx)
	require.NoError(t, err)

	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	src.onGet(func(ctx context.Context, key string) (records.ScooterTuning, bool, error) {
		close(fetchStarted)
		<-release
		// The service still reports the old record when this slow read returns.
		return records.DefaultScooterTuning(), true, nil
	})

	// Act: a background refresh starts, then a commit overtakes it.
	refreshDone := make(chan cache.Entry[records.ScooterTuning], 1)
	go func() {
		e, _ := rt.Refresh(ctx)
		refreshDone <- e
	}()
	<-fetchStarted

	src.onGet(nil)
	updated := records.DefaultScooterTuning()
	updated.Handling = 80
	_, err = coord.Commit(ctx, updated)
	require.NoError(t, err)
	close(release)
	result := <-refreshDone

	// Assert
	assert.Equal(t, 80.0, result.Value.Handling, "the superseded fetch result must be discarded")
	assert.Equal(t, 80.0, rt.Peek().Value.Handling)
}

func TestReadThrough_Subscribe(t *testing.T) {
	ctx := context.Background()

	// Arrange
	src := newFakeSource[records.ThrottleSetting]()
	src.seed(string(records.KeyThrottleSetting), 5)
	rt := cache.New[records.ThrottleSetting](string(records.KeyThrottleSetting), src, zerolog.Nop())

	var mu sync.Mutex
	var states []cache.FetchState
	cancel := rt.Subscribe(func(e cache.Entry[records.ThrottleSetting]) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, e.State)
	})

	// Act
	_, err := rt.Get(ctx)
	require.NoError(t, err)
	cancel()
	_, err = rt.Refresh(ctx)
	require.NoError(t, err)

	// Assert
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []cache.FetchState{cache.StateLoading, cache.StateLoaded}, states)
}
