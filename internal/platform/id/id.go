// Package id generates request ids and lease tokens.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string. Ids generated later sort after earlier
// ones, which keeps request ids roughly time-ordered in logs.
func NewID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return u.String(), nil
}
