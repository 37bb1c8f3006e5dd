package storage

import "errors"

// ErrConflict reports a unique-constraint hit — the benign dedup case
// (spec §7 StorageConflict). Callers must not treat it as a failure.
var ErrConflict = errors.New("storage: conflict")

// ErrNotFound reports that a lookup found no matching row.
var ErrNotFound = errors.New("storage: not found")
