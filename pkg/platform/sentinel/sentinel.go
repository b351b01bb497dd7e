package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors:
//   - ErrNotFound: row does not exist
//   - ErrConflict: a uniqueness guard rejected the write (e.g. an active
//     assignment already exists for the work item)
//   - ErrInvalidState: the conditional update found the row in the wrong state
//
// Losing a check-and-set race is not an error: stores report it as a false
// "applied" result.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
