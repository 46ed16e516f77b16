// Package idgen mints the opaque ids used throughout the pipeline (doc ids,
// task ids). Kept as its own package so every call site imports one place.
package idgen

import "github.com/google/uuid"

// New returns a fresh random id string.
func New() string {
	return uuid.New().String()
}
