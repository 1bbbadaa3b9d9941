package artifact

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	ErrNotFound = errors.New("artifact: not found")
	ErrConflict = errors.New("artifact: conflict")
)
