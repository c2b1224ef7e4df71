package tdserr

import (
	"errors"
	"fmt"

	"github.com/ulvii/go-tds/internal/tdserr/catalog"
)

// Error is the driver's concrete error type. Every error the core
// returns to a caller is either an *Error or wraps one; callers that
// need to classify a failure should use errors.As and branch on Kind,
// never on Error().
type Error struct {
	Kind        Kind
	MessageID   string        // catalog key, empty for ad-hoc messages
	Args        []interface{} // positional substitution args for MessageID
	Message     string        // pre-formatted message, used when MessageID is empty
	Cause       error
	ConnID      string // client connection id, appended by the caller-facing wrapper only
}

func (e *Error) Error() string {
	msg := e.Message
	if e.MessageID != "" {
		msg = catalog.Format("en", e.MessageID, e.Args...)
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.ConnID != "" {
		msg = fmt.Sprintf("%s ClientConnectionId:%s", msg, e.ConnID)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an ad-hoc Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an ad-hoc Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Localized constructs an Error that formats its message from the
// resource catalog at Error() time, not at construction time, so a
// later call to SetLocale (if ever added) changes rendering without
// reconstructing the error tree.
func Localized(kind Kind, messageID string, args ...interface{}) *Error {
	return &Error{Kind: kind, MessageID: messageID, Args: args}
}

// WithConnID returns a copy of err annotated with the client connection
// id used for diagnostics. The original error is left untouched.
func WithConnID(err error, connID string) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.ConnID = connID
		return &cp
	}
	return err
}

// KindOf extracts the Kind of err, or KindUnknown if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is of (or wraps) the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
