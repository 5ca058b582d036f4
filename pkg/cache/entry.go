// Package cache provides the read-through settings cache and the optimistic
// mutation coordinator that is the only writer of its entries.
package cache

import "time"

// FetchState is the load state of a cache entry.
type FetchState int

const (
	StateIdle FetchState = iota
	StateLoading
	StateLoaded
	StateErrored
)

func (s FetchState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Entry is a snapshot of one record in the cache.
//
// Present is false when the record is absent from the service and no
// default is registered for it. Generation increases on every change to the
// entry's value or state. Stale marks a loaded entry that the next Get will
// re-fetch.
type Entry[V any] struct {
	Key        string
	Value      V
	Present    bool
	State      FetchState
	Err        error
	Generation uint64
	Stale      bool
	UpdatedAt  time.Time
}

// Loaded reports whether the entry can serve reads and accept commits.
func (e Entry[V]) Loaded() bool {
	return e.State == StateLoaded
}
