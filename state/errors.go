package state

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Kind classifies an Error. Callers branch on kinds, never on messages.
type Kind string

const (
	KindInvalidIdentifier Kind = "InvalidIdentifier"
	KindInvalidState      Kind = "InvalidState"
	KindInvalidStatus     Kind = "InvalidStatus"
	KindInvalidChange     Kind = "InvalidChange"
	KindNotFound          Kind = "NotFound"
	KindParseError        Kind = "ParseError"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindIO                Kind = "IO"
	KindRollback          Kind = "RollbackError"
)

// Sentinel errors for use with errors.Is. They match any *Error of the same
// kind regardless of operation or message.
var (
	ErrInvalidIdentifier = &Error{Kind: KindInvalidIdentifier}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInvalidStatus     = &Error{Kind: KindInvalidStatus}
	ErrInvalidChange     = &Error{Kind: KindInvalidChange}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrParse             = &Error{Kind: KindParseError}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrIO                = &Error{Kind: KindIO}
	ErrRollback          = &Error{Kind: KindRollback}
)

// Error is the error type returned by every operation in this module.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Details map[string]any
	Err     error
}

// NewError returns an Error of the given kind. Details are given as
// alternating key/value pairs, as with the logger.
func NewError(kind Kind, op, message string, details ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Details: detailsFromPairs(details),
	}
}

// WrapError returns an Error of the given kind wrapping err.
func WrapError(kind Kind, op string, err error, details ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: err.Error(),
		Details: detailsFromPairs(details),
		Err:     err,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err carries the NotFound kind anywhere in its
// chain.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FSError maps an OS-level error into PermissionDenied or IO.
func FSError(op string, err error, details ...any) *Error {
	if errors.Is(err, fs.ErrPermission) {
		return WrapError(KindPermissionDenied, op, err, details...)
	}
	return WrapError(KindIO, op, err, details...)
}

func detailsFromPairs(pairs []any) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	details := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprint(pairs[i])
		}
		details[key] = pairs[i+1]
	}
	return details
}
