package errs

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

type Error interface {
	Is(err error) bool
	Wrap() error
	WrapMsg(msg string, kv ...any) error
	error
}

type ErrWrapper interface {
	Is(err error) bool
	Wrap() error
	Unwrap() error
	WrapMsg(msg string, kv ...any) error
	error
}

func New(s string, kv ...any) Error {
	return &errorString{s: toString(s, kv)}
}

type errorString struct {
	s string
}

func (e *errorString) Error() string { return e.s }

func (e *errorString) Is(err error) bool {
	var t *errorString
	if !errors.As(err, &t) {
		return false
	}
	return e.s == t.s
}

func (e *errorString) Wrap() error { return pkgerrors.WithStack(e) }

func (e *errorString) WrapMsg(msg string, kv ...any) error {
	if msg == "" && len(kv) == 0 {
		return e.Wrap()
	}
	return pkgerrors.WithStack(NewErrorWrapper(e, toString(msg, kv)))
}

func NewErrorWrapper(err error, s string) ErrWrapper {
	return &errorWrapper{error: err, s: s}
}

type errorWrapper struct {
	error
	s string
}

func (e *errorWrapper) Is(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(e.error, err)
}

func (e *errorWrapper) Error() string {
	return e.s + ": " + e.error.Error()
}

func (e *errorWrapper) Unwrap() error { return e.error }

func (e *errorWrapper) Wrap() error { return pkgerrors.WithStack(e) }

func (e *errorWrapper) WrapMsg(msg string, kv ...any) error {
	return pkgerrors.WithStack(NewErrorWrapper(e, toString(msg, kv)))
}

// toString renders msg followed by key=value pairs.
func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
