// Package history archives settled mutations to Google Cloud Storage.
//
// Entries are grouped by record and settlement day and written as gzipped
// JSON lines, one object per flushed group:
//
//	<prefix>/<record>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.gz
package history

import (
	"fmt"
	"time"

	"github.com/illmade-knight/go-tunesync/pkg/session"
)

// Entry is one archived mutation.
type Entry struct {
	MutationID string    `json:"mutationId"`
	Record     string    `json:"record"`
	Origin     string    `json:"origin,omitempty"`
	Outcome    string    `json:"outcome"`
	Superseded bool      `json:"superseded,omitempty"`
	Prior      any       `json:"prior,omitempty"`
	Value      any       `json:"value"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	SettledAt  time.Time `json:"settledAt"`
}

// BatchKey is the object path segment the entry is grouped under.
func (e *Entry) BatchKey() string {
	ts := e.SettledAt.UTC()
	return fmt.Sprintf("%s/%d/%02d/%02d", e.Record, ts.Year(), ts.Month(), ts.Day())
}

// FromSettlement converts a session settlement into an archive entry.
func FromSettlement(s session.Settlement, origin string) *Entry {
	e := &Entry{
		MutationID: s.ID.String(),
		Record:     string(s.Key),
		Origin:     origin,
		Outcome:    s.Outcome.String(),
		Superseded: s.Superseded,
		Prior:      s.Prior,
		Value:      s.Value,
		StartedAt:  s.StartedAt.UTC(),
		SettledAt:  s.SettledAt.UTC(),
	}
	if s.Err != nil {
		e.Error = s.Err.Error()
	}
	if e.SettledAt.IsZero() {
		e.SettledAt = time.Now().UTC()
	}
	return e
}
