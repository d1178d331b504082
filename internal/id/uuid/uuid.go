// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

var _ mirror.IDGenerator = Generator{}

// Generator creates UUID v7 strings for artifact ids and run tokens.
// Time ordering keeps catalog ids sortable by creation.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Short returns the first eight hex digits of a random UUIDv4, used where a
// compact unique suffix is enough.
type Short struct{}

// NewID returns an eight character identifier.
func (Short) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String()[:8], nil
}
