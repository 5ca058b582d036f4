package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-tunesync/pkg/changefeed"
	"github.com/illmade-knight/go-tunesync/pkg/config"
	"github.com/illmade-knight/go-tunesync/pkg/history"
	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/remote"
	"github.com/illmade-knight/go-tunesync/pkg/session"
)

// app bundles the session and the optional change feed for one command.
type app struct {
	session   *session.Session
	origin    string
	pubsub    *pubsub.Client
	publisher *changefeed.GooglePublisher
	history   *history.Recorder
	closers   []func() error
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Stop(ctx))
	}
	if a.history != nil {
		errs = append(errs, a.history.Stop(ctx))
	}
	errs = append(errs, a.session.Close())
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func googleOptions(c config.Config) []option.ClientOption {
	if c.Google.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.Google.CredentialsFile)}
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{origin: c.PubSub.Origin}
	if a.origin == "" {
		a.origin = uuid.NewString()
	}

	sources, err := newSources(ctx, c, a)
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}

	sess, err := session.New(sources, session.Options{
		FetchTimeout: c.FetchTimeout,
		WriteTimeout: c.WriteTimeout,
	}, logger)
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}
	a.session = sess

	if c.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, c.PubSub.ProjectID, googleOptions(c)...)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		a.pubsub = client
		a.closers = append(a.closers, client.Close)

		pub, err := changefeed.NewGooglePublisher(ctx, client, c.PubSub.TopicID, logger)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.publisher = pub
		sess.OnCommit(changefeed.NewAnnouncer(pub, a.origin, logger).Announce)
	}

	if c.History.Enabled() {
		if err := a.startHistory(ctx, c); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		sess.OnSettle(a.history.Observe)
	}
	return a, nil
}

func (a *app) startHistory(ctx context.Context, c config.Config) error {
	client, err := storage.NewClient(ctx, googleOptions(c)...)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	uploader, err := history.NewGCSUploader(history.NewGCSClientAdapter(client), history.GCSUploaderConfig{
		BucketName:   c.History.Bucket,
		ObjectPrefix: c.History.ObjectPrefix,
	}, logger)
	if err != nil {
		return err
	}
	rec, err := history.NewRecorder(history.RecorderConfig{
		BatchSize:     c.History.BatchSize,
		FlushInterval: c.History.FlushInterval,
		UploadTimeout: c.WriteTimeout,
		Origin:        a.origin,
	}, uploader, logger)
	if err != nil {
		return err
	}
	rec.Start(ctx)
	a.history = rec
	return nil
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newSources(ctx context.Context, c config.Config, a *app) (session.Sources, error) {
	switch c.Backend {
	case config.BackendRedis:
		rdb, err := remote.NewRedisClient(ctx, &remote.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return session.Sources{}, err
		}
		a.closers = append(a.closers, rdb.Close)
		return session.Sources{
			Tuning:        remote.NewRedisSourceFromClient[records.TuningConfig](rdb, c.Redis.KeyPrefix, logger),
			FuelInjection: remote.NewRedisSourceFromClient[records.FuelInjectionSettings](rdb, c.Redis.KeyPrefix, logger),
			Scooter:       remote.NewRedisSourceFromClient[records.ScooterTuning](rdb, c.Redis.KeyPrefix, logger),
			Throttle:      remote.NewRedisSourceFromClient[records.ThrottleSetting](rdb, c.Redis.KeyPrefix, logger),
		}, nil

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, c.Firestore.ProjectID, googleOptions(c)...)
		if err != nil {
			return session.Sources{}, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		fsCfg := &remote.FirestoreConfig{ProjectID: c.Firestore.ProjectID, CollectionName: c.Firestore.Collection}
		tuning, err := remote.NewFirestoreSource[records.TuningConfig](fsCfg, client, logger)
		if err != nil {
			return session.Sources{}, err
		}
		fuel, err := remote.NewFirestoreSource[records.FuelInjectionSettings](fsCfg, client, logger)
		if err != nil {
			return session.Sources{}, err
		}
		scooter, err := remote.NewFirestoreSource[records.ScooterTuning](fsCfg, client, logger)
		if err != nil {
			return session.Sources{}, err
		}
		throttle, err := remote.NewFirestoreSource[records.ThrottleSetting](fsCfg, client, logger)
		if err != nil {
			return session.Sources{}, err
		}
		return session.Sources{Tuning: tuning, FuelInjection: fuel, Scooter: scooter, Throttle: throttle}, nil

	default:
		logger.Warn().Msg("Using the in-memory backend; settings are lost when the process exits.")
		return session.Sources{
			Tuning:        remote.NewInMemorySource[records.TuningConfig](records.TuningConfig.Validate),
			FuelInjection: remote.NewInMemorySource[records.FuelInjectionSettings](records.FuelInjectionSettings.Validate),
			Scooter:       remote.NewInMemorySource[records.ScooterTuning](records.ScooterTuning.Validate),
			Throttle:      remote.NewInMemorySource[records.ThrottleSetting](records.ThrottleSetting.Validate),
		}, nil
	}
}
