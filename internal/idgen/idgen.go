// Package idgen generates record IDs (UUIDv4)
// and short URL-safe IDs for connections and MQTT client names.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for short IDs.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// ShortLength is the number of random characters in a short ID (excluding the prefix).
var ShortLength = 8

// New returns a fresh UUIDv4 string for a database record.
func New() string {
	return uuid.NewString()
}

// Short returns prefix followed by ShortLength random characters.
func Short(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, ShortLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustShort is Short for call sites where entropy failure is unrecoverable.
func MustShort(prefix string) string {
	id, err := Short(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
