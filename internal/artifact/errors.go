package artifact

import "errors"

var (
	// ErrConflict indicates the canonical directory for this URL and
	// timestamp already exists. Callers must not reuse the same
	// millisecond for the same URL.
	ErrConflict = errors.New("artifact directory already exists")

	// ErrIO wraps filesystem failures while creating directories or
	// writing artifact files.
	ErrIO = errors.New("artifact filesystem error")
)
