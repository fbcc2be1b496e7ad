package rank

import "errors"

// Sentinel errors surfaced across package boundaries.
var (
	// ErrNotFound signals that the requested project or ranking entry does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest signals a submission that fails validation, such as
	// an empty keyword set.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyRunning signals that another submitter won the idle→running
	// transition for this project.
	ErrAlreadyRunning = errors.New("rank check already running")
)
