package multi

import "github.com/Sternrassler/curly/pkg/request"

// Outcome is the completion result of one operation: the callback value on
// success, or a failure marker (Err != nil).
type Outcome[V any] struct {
	Value V
	Meta  request.Meta
	Err   error
}

// Failed reports whether the outcome is a failure marker.
func (o Outcome[V]) Failed() bool {
	return o.Err != nil
}

// Results maps the caller's original keys to outcomes.
type Results[K comparable, V any] map[K]Outcome[V]

// Merge copies the entries of other whose key is not yet present.
func (r Results[K, V]) Merge(other Results[K, V]) {
	for key, outcome := range other {
		if _, exists := r[key]; !exists {
			r[key] = outcome
		}
	}
}

// Values returns the values of successful outcomes.
func (r Results[K, V]) Values() map[K]V {
	out := make(map[K]V, len(r))
	for key, outcome := range r {
		if !outcome.Failed() {
			out[key] = outcome.Value
		}
	}
	return out
}

// Failures returns the errors of failed outcomes.
func (r Results[K, V]) Failures() map[K]error {
	out := make(map[K]error)
	for key, outcome := range r {
		if outcome.Failed() {
			out[key] = outcome.Err
		}
	}
	return out
}
