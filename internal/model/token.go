package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Token is the opaque per-user correlation id that keys a selection.
// It is not a credential.
type Token = uuid.UUID

// canonicalTokenLen is the length of the 8-4-4-4-12 textual form.
const canonicalTokenLen = 36

// NewToken generates a random (version 4) token.
func NewToken() Token {
	return uuid.New()
}

// ParseToken accepts only the canonical hyphenated form of an RFC 4122
// UUID. Braced, URN and unhyphenated spellings are rejected so that a token
// has exactly one textual representation in export links.
func ParseToken(s string) (Token, error) {
	if len(s) != canonicalTokenLen {
		return uuid.Nil, fmt.Errorf("%w: token %q is not a canonical UUID", ErrValidation, s)
	}
	t, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: token %q: %v", ErrValidation, s, err)
	}
	if t.Variant() != uuid.RFC4122 || t.Version() < 1 || t.Version() > 8 {
		return uuid.Nil, fmt.Errorf("%w: token %q has unsupported version/variant", ErrValidation, s)
	}
	return t, nil
}
