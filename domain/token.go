package domain

import "github.com/google/uuid"

// NewToken mints a sortable unique identifier for threads, messages and
// audit events: a UUIDv7, 48-bit millisecond timestamp followed by a
// random payload. The canonical rendering sorts lexicographically in
// creation order, and the generator sequences ids minted within the
// same millisecond, so ids from one process are strictly increasing.
// Polling by id cursor depends on both properties.
func NewToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
