package cache

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	fetchCounter      metric.Int64Counter
	fetchErrorCounter metric.Int64Counter
	defaultCounter    metric.Int64Counter
	commitCounter     metric.Int64Counter
	rollbackCounter   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/illmade-knight/go-tunesync/pkg/cache")

	var err error

	fetchCounter, err = meter.Int64Counter(
		"tunesync.cache.fetches",
		metric.WithDescription("Number of fetches issued to the remote config source"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.fetches counter: %v", err)
	}

	fetchErrorCounter, err = meter.Int64Counter(
		"tunesync.cache.fetch_errors",
		metric.WithDescription("Number of fetches that left an entry errored"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.fetch_errors counter: %v", err)
	}

	defaultCounter, err = meter.Int64Counter(
		"tunesync.cache.defaults_synthesized",
		metric.WithDescription("Number of absent records initialized with their default"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.defaults_synthesized counter: %v", err)
	}

	commitCounter, err = meter.Int64Counter(
		"tunesync.mutation.committed",
		metric.WithDescription("Number of optimistic mutations confirmed by the source"),
	)
	if err != nil {
		log.Fatalf("failed to create mutation.committed counter: %v", err)
	}

	rollbackCounter, err = meter.Int64Counter(
		"tunesync.mutation.rolled_back",
		metric.WithDescription("Number of optimistic mutations rolled back after a failed write"),
	)
	if err != nil {
		log.Fatalf("failed to create mutation.rolled_back counter: %v", err)
	}
}

func recordAttr(key string) metric.AddOption {
	return metric.WithAttributes(attribute.String("record", key))
}

func recordFetch(key string)      { fetchCounter.Add(context.Background(), 1, recordAttr(key)) }
func recordFetchError(key string) { fetchErrorCounter.Add(context.Background(), 1, recordAttr(key)) }
func recordDefault(key string)    { defaultCounter.Add(context.Background(), 1, recordAttr(key)) }
func recordCommit(key string)     { commitCounter.Add(context.Background(), 1, recordAttr(key)) }
func recordRollback(key string)   { rollbackCounter.Add(context.Background(), 1, recordAttr(key)) }
