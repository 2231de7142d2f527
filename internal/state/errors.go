package state

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEntity means a referenced pool, epoch or asset does not exist. Fatal for the event.
	ErrMissingEntity = errors.New("missing entity")

	// ErrMissingExternalData means a contract read returned nothing usable. Callers keep the
	// prior persisted value and log a warning.
	ErrMissingExternalData = errors.New("missing external data")

	// ErrDataConsistency means the input contradicts persisted state, e.g. selling more than was
	// ever bought. Fatal for the event or pass.
	ErrDataConsistency = errors.New("data consistency fault")

	// ErrEncoding means a single call result could not be decoded.
	ErrEncoding = errors.New("encoding fault")
)

// MissingEntity wraps ErrMissingEntity with the entity kind and id.
func MissingEntity(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrMissingEntity)
}

// Inconsistent wraps ErrDataConsistency with a formatted detail.
func Inconsistent(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDataConsistency)
}
