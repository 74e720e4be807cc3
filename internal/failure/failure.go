// Package failure defines the error taxonomy shared by the query builder,
// search client and result writer.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry decisions and user-facing reporting.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidQuery
	KindAuth
	KindQuery
	KindRateLimit
	KindNetwork
	KindParse
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindInvalidQuery:
		return "InvalidQuery"
	case KindAuth:
		return "AuthError"
	case KindQuery:
		return "QueryError"
	case KindRateLimit:
		return "RateLimitExceeded"
	case KindNetwork:
		return "NetworkError"
	case KindParse:
		return "ParseError"
	case KindIO:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is checks. Any *Error of the same Kind matches.
var (
	ErrInvalidQuery = &Error{Kind: KindInvalidQuery, Msg: "invalid query"}
	ErrAuth         = &Error{Kind: KindAuth, Msg: "authentication failed"}
	ErrQuery        = &Error{Kind: KindQuery, Msg: "query rejected"}
	ErrRateLimit    = &Error{Kind: KindRateLimit, Msg: "rate limit exceeded"}
	ErrNetwork      = &Error{Kind: KindNetwork, Msg: "network failure"}
	ErrParse        = &Error{Kind: KindParse, Msg: "parse failure"}
	ErrIO           = &Error{Kind: KindIO, Msg: "i/o failure"}
)

// Error is the structured error type. Op names the failing operation,
// Msg is developer facing and Err is the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New creates an *Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap creates an *Error of the given kind around err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the error class is transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit:
		return true
	}
	return false
}

// Message renders a single human-readable line for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInvalidQuery:
		return "invalid search term: " + err.Error()
	case KindAuth:
		return "the API rejected the bearer token, check --token or HAPPY_TWEET_BEARER_TOKEN: " + err.Error()
	case KindQuery:
		return "the API rejected the search query: " + err.Error()
	case KindRateLimit:
		return "rate limited by the API, try again later: " + err.Error()
	case KindNetwork:
		return "could not reach the API: " + err.Error()
	case KindParse:
		return "unexpected data: " + err.Error()
	case KindIO:
		return "could not write output: " + err.Error()
	}
	return err.Error()
}
