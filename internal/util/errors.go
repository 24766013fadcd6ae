package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrSchemaFromFuture indicates the catalog was written by a newer version
	ErrSchemaFromFuture = errors.New("database schema is from a newer version")

	// ErrReadOnlyDatabase indicates a write was attempted on a read-only catalog
	ErrReadOnlyDatabase = errors.New("database is read-only")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrWrongSynth indicates a patch for a different synth was used
	ErrWrongSynth = errors.New("patch belongs to a different synth")

	// ErrInvalidFilter indicates a filter that cannot be compiled or executed
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrCancelled indicates a bulk operation was aborted by the caller
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoStrategy indicates a synth has no way to perform the requested transfer
	ErrNoStrategy = errors.New("synth implements no suitable transfer strategy")

	// ErrInvalidPort indicates a MIDI endpoint that is gone or was never opened
	ErrInvalidPort = errors.New("invalid MIDI port")
)
