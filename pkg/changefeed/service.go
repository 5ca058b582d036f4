package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
	"github.com/illmade-knight/go-tunesync/pkg/types"
)

// Invalidator re-fetches a record after another client changed it.
type Invalidator interface {
	InvalidateKey(ctx context.Context, key records.Key) error
}

// Service applies change events from a consumer to an Invalidator.
// Events published by this client's own origin are acknowledged and skipped.
type Service struct {
	numWorkers   int
	origin       string
	consumer     MessageConsumer
	invalidator  Invalidator
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewService creates a change feed service.
func NewService(numWorkers int, origin string, consumer MessageConsumer, invalidator Invalidator, logger zerolog.Logger) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if invalidator == nil {
		return nil, fmt.Errorf("invalidator cannot be nil")
	}
	if numWorkers <= 0 {
		numWorkers = 2
	}
	return &Service{
		numWorkers:  numWorkers,
		origin:      origin,
		consumer:    consumer,
		invalidator: invalidator,
		logger:      logger.With().Str("service", "ChangeFeed").Logger(),
	}, nil
}

// Start starts the consumer and the workers.
func (s *Service) Start(ctx context.Context) error {
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		s.shutdownFunc()
		return fmt.Errorf("failed to start change feed consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting change feed workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return nil
}

func (s *Service) worker(workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handle(s.shutdownCtx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg types.ConsumedMessage) {
	e, err := DecodeEvent(msg.Payload, msg.Attributes)
	if err != nil {
		// Malformed and unknown-record events never decode.
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Dropping undecodable change event.")
		msg.Ack()
		return
	}
	if e.Origin == s.origin {
		s.logger.Debug().Str("msg_id", msg.ID).Str("key", string(e.Key)).Msg("Skipping own change event.")
		msg.Ack()
		return
	}

	if err := s.invalidator.InvalidateKey(ctx, e.Key); err != nil {
		if remote.KindOf(err) == remote.KindInvalidValue {
			s.logger.Error().Err(err).Str("msg_id", msg.ID).Str("key", string(e.Key)).Msg("Change event cannot be applied, dropping.")
			msg.Ack()
			return
		}
		s.logger.Warn().Err(err).Str("msg_id", msg.ID).Str("key", string(e.Key)).Msg("Failed to refresh changed record, Nacking.")
		msg.Nack()
		return
	}
	s.logger.Info().Str("key", string(e.Key)).Str("origin", e.Origin).Str("mutation_id", e.MutationID).Msg("Refreshed record changed by another client.")
	msg.Ack()
}

// Stop stops the consumer and waits for the workers.
func (s *Service) Stop(ctx context.Context) {
	s.logger.Info().Msg("Stopping change feed service...")
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()
	select {
	case <-workerDone:
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for change feed workers to finish.")
	}

	if s.shutdownFunc != nil {
		s.shutdownFunc()
	}
}
