package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/illmade-knight/go-tunesync/pkg/session"
)

var (
	archivedCounter metric.Int64Counter
	droppedCounter  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/illmade-knight/go-tunesync/pkg/history")
	archivedCounter, _ = meter.Int64Counter("tunesync.history.archived",
		metric.WithDescription("Mutation history entries uploaded."))
	droppedCounter, _ = meter.Int64Counter("tunesync.history.dropped",
		metric.WithDescription("Mutation history entries dropped on a full queue or failed upload."))
}

// RecorderConfig holds configuration for the Recorder.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	UploadTimeout time.Duration
	// Origin is stamped on every entry recorded through Observe.
	Origin string
}

// Recorder batches entries per batch key and hands full or aged batches to
// an Uploader. Recording never blocks the caller.
type Recorder struct {
	config   RecorderConfig
	uploader Uploader
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	input  chan *Entry
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder. Zero sizes and intervals fall back to
// safe defaults.
func NewRecorder(config RecorderConfig, uploader Uploader, logger zerolog.Logger) (*Recorder, error) {
	if uploader == nil {
		return nil, errors.New("uploader cannot be nil")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 30 * time.Second
	}
	return &Recorder{
		config:   config,
		uploader: uploader,
		logger:   logger.With().Str("component", "HistoryRecorder").Logger(),
		input:    make(chan *Entry, config.BatchSize*2),
	}, nil
}

// Start runs the batching worker until ctx is done or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.logger.Info().
		Int("batch_size", r.config.BatchSize).
		Dur("flush_interval", r.config.FlushInterval).
		Msg("Starting mutation history recorder...")
	r.wg.Add(1)
	go r.worker(ctx)
}

// Record queues e. It reports false when the queue is full or the recorder
// is stopped, in which case e is dropped.
func (r *Recorder) Record(e *Entry) bool {
	if e == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.input <- e:
		return true
	default:
		droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "queue_full")))
		r.logger.Warn().Str("mutation_id", e.MutationID).Msg("History queue full, dropping entry.")
		return false
	}
}

// Observe records a session settlement. It satisfies session.SettleHook.
func (r *Recorder) Observe(_ context.Context, s session.Settlement) {
	r.Record(FromSettlement(s, r.config.Origin))
}

// Stop flushes pending batches and waits for uploads, bounded by ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.input)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		// Entries recorded after the worker left on a cancelled context.
		if leftover := r.drain(make(map[string][]*Entry)); len(leftover) > 0 {
			r.flushAll(ctx, leftover)
		}
		if err := r.uploader.Close(); err != nil {
			r.logger.Error().Err(err).Msg("Error closing history uploader.")
		}
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("Mutation history recorder stopped.")
		return nil
	case <-ctx.Done():
		r.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for history recorder to stop.")
		return ctx.Err()
	}
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	batches := make(map[string][]*Entry)
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The caller's context is gone; give the final flush its own.
			r.flushAll(context.WithoutCancel(ctx), r.drain(batches))
			return
		case e, ok := <-r.input:
			if !ok {
				r.flushAll(context.WithoutCancel(ctx), batches)
				return
			}
			key := e.BatchKey()
			batches[key] = append(batches[key], e)
			if len(batches[key]) >= r.config.BatchSize {
				r.flush(ctx, batches[key])
				delete(batches, key)
			}
		case <-ticker.C:
			r.flushAll(ctx, batches)
		}
	}
}

// drain moves every queued entry into batches without blocking.
func (r *Recorder) drain(batches map[string][]*Entry) map[string][]*Entry {
	for {
		select {
		case e, ok := <-r.input:
			if !ok {
				return batches
			}
			key := e.BatchKey()
			batches[key] = append(batches[key], e)
		default:
			return batches
		}
	}
}

func (r *Recorder) flushAll(ctx context.Context, batches map[string][]*Entry) {
	for key, batch := range batches {
		r.flush(ctx, batch)
		delete(batches, key)
	}
}

func (r *Recorder) flush(ctx context.Context, batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	uploadCtx, cancel := context.WithTimeout(ctx, r.config.UploadTimeout)
	defer cancel()

	attrs := metric.WithAttributes(attribute.String("record", batch[0].Record))
	if err := r.uploader.UploadBatch(uploadCtx, batch); err != nil {
		droppedCounter.Add(ctx, int64(len(batch)), attrs)
		r.logger.Error().Err(err).Int("batch_size", len(batch)).Str("batch_key", batch[0].BatchKey()).Msg("Failed to upload history batch, dropping entries.")
		return
	}
	archivedCounter.Add(ctx, int64(len(batch)), attrs)
}
