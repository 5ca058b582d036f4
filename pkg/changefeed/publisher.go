package changefeed

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-tunesync/pkg/records"
)

// Publisher sends raw messages to the change feed topic.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages.
	Stop(ctx context.Context) error
}

// GooglePublisher is a non-batching Pub/Sub publisher.
type GooglePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePublisher verifies the topic exists and returns a publisher for it.
func NewGooglePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &GooglePublisher{
		topic:  topic,
		logger: logger.With().Str("component", "GooglePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish queues a message and logs the publish result asynchronously.
func (p *GooglePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		// The caller's context may be short lived.
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish change event")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Change event published.")
	}()

	return nil
}

// Stop flushes pending messages, respecting the context's deadline.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Announcer publishes an Event for every committed mutation of this client.
type Announcer struct {
	publisher Publisher
	origin    string
	logger    zerolog.Logger
}

// NewAnnouncer creates an announcer tagging events with origin.
func NewAnnouncer(publisher Publisher, origin string, logger zerolog.Logger) *Announcer {
	return &Announcer{
		publisher: publisher,
		origin:    origin,
		logger:    logger.With().Str("component", "Announcer").Str("origin", origin).Logger(),
	}
}

// Announce publishes a change event. Failures are logged; the commit that
// triggered it has already succeeded.
func (a *Announcer) Announce(ctx context.Context, key records.Key, mutationID uuid.UUID) {
	e := Event{
		Key:         key,
		Origin:      a.origin,
		MutationID:  mutationID.String(),
		PublishedAt: time.Now().UTC(),
	}
	payload, attrs, err := e.Encode()
	if err != nil {
		a.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to encode change event.")
		return
	}
	if err := a.publisher.Publish(ctx, payload, attrs); err != nil {
		a.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to publish change event.")
	}
}
