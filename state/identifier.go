package state

import (
	"strings"
)

// MaxIdentifierLength bounds workflow, step and checkpoint identifiers so
// derived file names stay within common filesystem limits.
const MaxIdentifierLength = 200

// SanitizeID maps an identifier onto the safe filename alphabet: every byte
// outside [A-Za-z0-9_-] becomes '-'. Multi-byte runes become one '-' per
// rune. The mapping is shared with other tools reading the same layout and
// must not change.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ValidateID checks that id is usable as a workflow, step or checkpoint
// identifier. what names the identifier in the returned error.
func ValidateID(op, what, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewError(KindInvalidIdentifier, op, what+" must not be empty", what, id)
	}
	if len(id) > MaxIdentifierLength {
		return NewError(KindInvalidIdentifier, op, what+" is too long", what, id, "max", MaxIdentifierLength)
	}
	return nil
}
