package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch attempt.
type Kind string

// Attempt failure kinds.
const (
	KindNetwork  Kind = "network"
	KindTimeout  Kind = "timeout"
	KindNotFound Kind = "not_found"
	KindServer   Kind = "server"
	KindBlocked  Kind = "blocked"
	KindCaptcha  Kind = "captcha"
	KindContent  Kind = "content"
)

// ErrNotFound matches any not_found Error via errors.Is.
var ErrNotFound = errors.New("page not found")

// Error is one failed attempt.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return string(e.Kind) + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not_found attempts.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindNotFound
}

// ExhaustedError is returned once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func newError(kind Kind, status int, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Err: err, Msg: fmt.Sprintf(format, args...)}
}
