package garage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidGarageID indicates that a garage identifier does not have the
// expected opaque UUID shape.
var ErrInvalidGarageID = errors.New("garage: invalid garage id")

// GarageID represents a validated garage identifier. It is the sole access
// credential for a garage's data, so every data-layer call takes it
// explicitly.
type GarageID string

// NewGarageID validates raw input and returns a GarageID. The identifier must
// parse as a canonical UUID; anything else is rejected before it can be used
// as an access key.
func NewGarageID(rawInput string) (GarageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidGarageID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidGarageID, trimmed)
	}
	if parsed.String() != strings.ToLower(trimmed) {
		return "", fmt.Errorf("%w: non-canonical form %q", ErrInvalidGarageID, trimmed)
	}
	return GarageID(parsed.String()), nil
}

// GenerateGarageID issues a fresh opaque garage identifier.
func GenerateGarageID() (GarageID, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return GarageID(value.String()), nil
}

// String returns the underlying string identifier.
func (id GarageID) String() string {
	return string(id)
}
