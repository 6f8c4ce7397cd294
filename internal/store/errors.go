package store

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunMissing indicates an ingest referenced a run id with no row.
	ErrRunMissing = errors.New("run does not exist")

	// ErrRunFinalized indicates a write targeted a run that already left
	// the RUNNING state.
	ErrRunFinalized = errors.New("run is already finalized")

	// ErrIngestPersistent indicates an insert failed for a reason that a
	// retry will not fix.
	ErrIngestPersistent = errors.New("persistent ingest failure")

	// ErrBadRequest indicates invalid query input (timezone, date, limit).
	ErrBadRequest = errors.New("invalid request")

	// ErrDatabaseUnavailable indicates the database could not be reached.
	ErrDatabaseUnavailable = errors.New("database unavailable")
)
