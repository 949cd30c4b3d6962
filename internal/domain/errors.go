package domain

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRemoteIDAssigned = errors.New("remote id already assigned")
	ErrNoJobAvailable   = errors.New("no job available")
	// ErrJobFinalized is returned when a save would overwrite a job that
	// already reached a terminal state.
	ErrJobFinalized = errors.New("job already finalized")
)

// ErrorKind classifies failures so retry decisions never inspect messages.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindConfiguration   ErrorKind = "configuration"
	KindTransient       ErrorKind = "transient"
	KindProviderFailure ErrorKind = "provider_failure"
	KindIntegrity       ErrorKind = "integrity"
	KindInternal        ErrorKind = "internal"
)

// Error is a classified failure carrying a user-visible message.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind exposes the classification.
func (e *Error) ErrorKind() ErrorKind { return e.Kind }

// PublicMessage is the part of the error safe to show to users.
func (e *Error) PublicMessage() string { return e.Msg }

func ValidationError(op, msg string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg, Err: err}
}

func ConfigurationError(op, msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: msg, Err: err}
}

func TransientError(op, msg string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Msg: msg, Err: err}
}

func IntegrityError(op, msg string, err error) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Msg: msg, Err: err}
}

type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf resolves the classification of err. Unclassified network failures
// and deadlines are transient; anything else unknown is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindInternal
}

// Retryable reports whether the outer attempt loop may try again.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// PublicMessage is the message surfaced on the job record.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var pm interface{ PublicMessage() string }
	if errors.As(err, &pm) {
		if msg := pm.PublicMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}
