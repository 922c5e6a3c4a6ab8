package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// NormalizeID validates id and returns its canonical form, so that differently
// cased spellings of one identifier cannot create two edges.
func NormalizeID(field, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%s is required: %w", field, ErrInvalidArgument)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%s %q is not a valid id: %w", field, id, ErrInvalidArgument)
	}
	return u.String(), nil
}
