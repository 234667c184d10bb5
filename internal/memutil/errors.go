package memutil

import "errors"

// Sanitization errors, surfaced verbatim as the service facade's error
// sentences for add-memory validation failures.
var (
	ErrEmptyText       = errors.New("Memory text cannot be empty.")
	ErrTextTooLong     = errors.New("Memory text is too long (max 1200 characters).")
	ErrLooksLikeSecret = errors.New("Memory looks like a secret/token. Refusing to store it.")
)
