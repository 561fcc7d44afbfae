// cache/entry.go
package cache

type entryState int

const (
	stateExists entryState = iota
	stateNonexistent
	stateFetchError
)

// Entry is the tri-state result of a cache load: the value exists at a
// revision, the backing entity does not exist, or the fetch itself failed.
// The distinction is load-bearing for downstream fallbacks: "confirmed no
// access" empties data while "could not determine access" must not.
type Entry[V any] struct {
	state    entryState
	value    V
	revision int64
	cause    error
}

// NewEntry wraps an existing value at the given revision.
func NewEntry[V any](revision int64, value V) Entry[V] {
	return Entry[V]{state: stateExists, value: value, revision: revision}
}

// Nonexistent marks the backing entity as confirmed absent.
func Nonexistent[V any]() Entry[V] {
	return Entry[V]{state: stateNonexistent}
}

// FetchError marks a transient failure while loading the entity.
func FetchError[V any](cause error) Entry[V] {
	return Entry[V]{state: stateFetchError, cause: cause}
}

func (e Entry[V]) Exists() bool {
	return e.state == stateExists
}

func (e Entry[V]) IsFetchError() bool {
	return e.state == stateFetchError
}

// Value returns the wrapped value; only meaningful when Exists.
func (e Entry[V]) Value() V {
	return e.value
}

// Revision is the monotonically increasing version of the wrapped value,
// used for staleness detection.
func (e Entry[V]) Revision() int64 {
	return e.revision
}

// FetchErrorCause returns the failure behind a fetch-error entry, nil
// otherwise.
func (e Entry[V]) FetchErrorCause() error {
	return e.cause
}
