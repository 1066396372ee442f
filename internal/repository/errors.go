package repository

import "errors"

// ErrNotFound is returned by mutating operations (TransitionJob,
// UpdateCounters, MarkScheduled, ...) when the target record does not exist.
var ErrNotFound = errors.New("repository: record not found")

// ErrConflict is returned by TransitionJob when expectedFrom does not match
// the record's current status (another worker already moved it) — the CAS
// failure case distinct from an invalid DAG edge.
var ErrConflict = errors.New("repository: compare-and-set conflict")
