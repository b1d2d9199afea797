// Package errors defines leafdb's error kinds (spec §7) and the
// teacher's classify/retry/track trio, repurposed to leafdb's
// single-log-per-collection write path.
package errors

import "errors"

// Sentinel kinds per spec §7. Wrap these with fmt.Errorf("...: %w", ErrX)
// at call sites that need more context; callers test with errors.Is.
var (
	// ErrNotFound: update/delete on a non-existent id (delete is a
	// no-op at the façade; update is a hard error).
	ErrNotFound = errors.New("leafdb: not found")

	// ErrIO: any underlying filesystem failure.
	ErrIO = errors.New("leafdb: io error")

	// ErrParse: a log line or index file could not be parsed.
	ErrParse = errors.New("leafdb: parse error")

	// ErrOutOfRange: a numeric canonical key fell outside +/-10^12.
	ErrOutOfRange = errors.New("leafdb: numeric key out of range")

	// Façade-level errors not named as "kinds" in spec §7 but required
	// by its operation contracts.
	ErrCollectionNameInvalid = errors.New("leafdb: invalid collection name")
	ErrNotJSONObject         = errors.New("leafdb: document is not a JSON object")
	ErrInvalidPath           = errors.New("leafdb: invalid field path")
	ErrPoolStopped           = errors.New("leafdb: rebuild worker pool stopped")
	ErrRebuildTimeout        = errors.New("leafdb: index rebuild timed out")
)
