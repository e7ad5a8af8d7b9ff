package core

import "github.com/google/uuid"

// QueryID is an opaque 128-bit query identifier, assigned before Exec and
// immutable thereafter.
type QueryID string

// InstanceID uniquely identifies one fragment instance within a query.
type InstanceID string

// NewQueryID generates a new opaque query identifier.
func NewQueryID() QueryID {
	return QueryID(uuid.New().String())
}

// NewInstanceID generates a new globally-unique fragment instance identifier.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.New().String())
}
