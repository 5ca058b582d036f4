// Package changefeed tells other clients when a settings record was
// committed, so they can invalidate their cached copy.
package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-tunesync/pkg/records"
)

// Message attributes set on every published event.
const (
	AttrRecord = "record"
	AttrOrigin = "origin"
)

// Event announces that a record was committed by Origin.
type Event struct {
	Key         records.Key `json:"key"`
	Origin      string      `json:"origin"`
	MutationID  string      `json:"mutationId"`
	PublishedAt time.Time   `json:"publishedAt"`
}

// Encode serializes e for publishing.
func (e Event) Encode() ([]byte, map[string]string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return payload, map[string]string{
		AttrRecord: string(e.Key),
		AttrOrigin: e.Origin,
	}, nil
}

// DecodeEvent parses a published event. The record must be one this client
// knows, and the record attribute, when present, must agree with the payload.
func DecodeEvent(payload []byte, attributes map[string]string) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	if e.Key == "" {
		return Event{}, fmt.Errorf("change event has no record key")
	}
	if !e.Key.Valid() {
		return Event{}, fmt.Errorf("change event for unknown record %q", e.Key)
	}
	if attr, ok := attributes[AttrRecord]; ok && attr != string(e.Key) {
		return Event{}, fmt.Errorf("change event record %q does not match attribute %q", e.Key, attr)
	}
	return e, nil
}
