package remote

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreDocument wraps a record so scalar records (the throttle value)
// map to a document like struct records do.
type firestoreDocument[V any] struct {
	Value     V         `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt,serverTimestamp"`
}

// FirestoreSource is a Source backed by one document per record key in a
// Firestore collection.
type FirestoreSource[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a new generic FirestoreSource.
func NewFirestoreSource[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Get retrieves a single record document by its key.
func (s *FirestoreSource[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("key", key).Msg("Record not found in Firestore.")
			return zero, false, nil
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get record from Firestore.")
		return zero, false, NewError(kindFromStatus(err), "get", key, err)
	}

	var doc firestoreDocument[V]
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return zero, false, NewError(KindUnknown, "get", key, fmt.Errorf("firestore DataTo: %w", err))
	}

	s.logger.Debug().Str("key", key).Msg("Successfully fetched record from Firestore.")
	return doc.Value, true, nil
}

// Set writes the record document, replacing any previous value.
func (s *FirestoreSource[V]) Set(ctx context.Context, key string, value V) error {
	_, err := s.client.Collection(s.collectionName).Doc(key).Set(ctx, firestoreDocument[V]{Value: value})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write record to Firestore.")
		return NewError(kindFromStatus(err), "set", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("Successfully wrote record to Firestore.")
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource[V]) Close() error {
	return nil
}

func kindFromStatus(err error) Kind {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return KindUnavailable
	case codes.PermissionDenied, codes.Unauthenticated:
		return KindUnauthorized
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return KindInvalidValue
	default:
		return KindOf(err)
	}
}
