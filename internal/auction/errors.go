package auction

import "errors"

// Storage-level errors surfaced by the repository.
var (
	// ErrNotFound means no auction exists with the given identifier.
	ErrNotFound = errors.New("auction not found")

	// ErrPriceConflict means the conditional bid commit lost a race: the
	// auction's current price moved (or it closed) between the caller's read
	// and the write. Callers re-read and re-validate.
	ErrPriceConflict = errors.New("auction price changed concurrently")
)
