package infra

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet defines the character set used for the random portion of IDs.
const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const idLength = 12

// ID prefixes.
const (
	PrefixEvent     = "evt-"
	PrefixSignal    = "sig-"
	PrefixExecution = "exe-"
)

// NewID returns a short URL-safe unique ID with the given prefix.
func NewID(prefix string) (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustID is NewID for callers with no error path. nanoid only fails when the
// system random source fails.
func MustID(prefix string) string {
	id, err := NewID(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
