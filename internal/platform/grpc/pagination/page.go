// Package pagination resolves result counts requested over RPC.
package pagination

import "fmt"

// Limits bounds a requested result count.
type Limits struct {
	Default int
	Max     int
}

// RangeError reports a requested count outside [0, Max].
type RangeError struct {
	Requested int
	Max       int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("limit %d out of range [0, %d]", e.Requested, e.Max)
}

// Resolve returns the count to serve for requested. Zero selects Default.
// Negative values, and values above a positive Max, are rejected.
func (l Limits) Resolve(requested int) (int, error) {
	if requested < 0 || (l.Max > 0 && requested > l.Max) {
		return 0, &RangeError{Requested: requested, Max: l.Max}
	}
	if requested == 0 {
		requested = max(l.Default, 1)
	}
	return requested, nil
}
