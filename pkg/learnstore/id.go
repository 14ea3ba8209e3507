package learnstore

import (
	"fmt"
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	sessionIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	sessionIDLength   = 21
)

// NewSessionID returns a random alphanumeric session ID. Leaving out '-'
// keeps generated IDs from being parsed as command-line flags.
func NewSessionID() (string, error) {
	id, err := gonanoid.Generate(sessionIDAlphabet, sessionIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id, nil
}

// validateSessionID guards session creation. Other operations address
// existing keys as they are, so documents written by other tools stay usable.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: contains control characters", ErrInvalidSessionID)
	}
	return nil
}

func validateSubscriber(subscriber string) error {
	if subscriber == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubscriber)
	}
	return nil
}
