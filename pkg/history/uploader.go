package history

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Uploader writes a batch of entries to durable storage.
type Uploader interface {
	UploadBatch(ctx context.Context, entries []*Entry) error
	Close() error
}

// GCSUploaderConfig names the destination bucket and object prefix.
type GCSUploaderConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSUploader groups entries by batch key and writes each group to its own
// compressed object.
type GCSUploader struct {
	client GCSClient
	config GCSUploaderConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSUploader creates an uploader for config.BucketName.
func NewGCSUploader(client GCSClient, config GCSUploaderConfig, logger zerolog.Logger) (*GCSUploader, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSUploader{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSUploader").Logger(),
	}, nil
}

// UploadBatch uploads every group of entries in parallel. Entries without a
// record are skipped. All group failures are returned joined.
func (u *GCSUploader) UploadBatch(ctx context.Context, entries []*Entry) error {
	groups := make(map[string][]*Entry)
	for _, e := range entries {
		if e == nil || e.Record == "" {
			continue
		}
		key := e.BatchKey()
		groups[key] = append(groups[key], e)
	}
	if len(groups) == 0 {
		return nil
	}

	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for key, group := range groups {
		u.wg.Add(1)
		g.Go(func() error {
			defer u.wg.Done()
			if err := u.uploadGroup(ctx, key, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (u *GCSUploader) uploadGroup(ctx context.Context, batchKey string, entries []*Entry) error {
	objectName := path.Join(u.config.ObjectPrefix, batchKey, uuid.NewString()+".jsonl.gz")
	u.logger.Debug().Str("object_name", objectName).Int("entry_count", len(entries)).Msg("Starting upload for grouped batch.")

	writer := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, e := range entries {
			if err = enc.Encode(e); err != nil {
				err = fmt.Errorf("encode entry %s: %w", e.MutationID, err)
				return
			}
		}
		err = gz.Close()
	}()

	written, copyErr := io.Copy(writer, pr)
	// Unblocks the encoder if the copy stopped early.
	_ = pr.Close()
	closeErr := writer.Close()
	if copyErr != nil {
		return fmt.Errorf("stream object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close object %s: %w", objectName, closeErr)
	}

	u.logger.Info().
		Str("object_name", objectName).
		Int64("bytes_written", written).
		Int("entry_count", len(entries)).
		Msg("Uploaded mutation history batch.")
	return nil
}

// Close waits for in-progress uploads.
func (u *GCSUploader) Close() error {
	u.wg.Wait()
	return nil
}
