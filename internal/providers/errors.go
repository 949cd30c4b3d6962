package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

// Error is returned by provider operations. Kind drives the retry decision.
type Error struct {
	Provider string
	RemoteID string
	Kind     domain.ErrorKind
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.RemoteID != "" {
		b.WriteString("[")
		b.WriteString(e.RemoteID)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind exposes the classification to domain.KindOf.
func (e *Error) ErrorKind() domain.ErrorKind {
	if e.Kind == "" {
		return domain.KindInternal
	}
	return e.Kind
}

// PublicMessage keeps provider failures readable on the job record.
func (e *Error) PublicMessage() string { return e.Msg }

// Transient marks connection and timeout class failures.
func Transient(provider, remoteID, msg string, err error) *Error {
	return &Error{Provider: provider, RemoteID: remoteID, Kind: domain.KindTransient, Msg: msg, Err: err}
}

// Failure marks an explicit provider-side rejection.
func Failure(provider, remoteID, msg string, err error) *Error {
	return &Error{Provider: provider, RemoteID: remoteID, Kind: domain.KindProviderFailure, Msg: msg, Err: err}
}

// Misconfigured marks a deployment defect such as a missing credential.
func Misconfigured(provider, msg string) *Error {
	return &Error{Provider: provider, Kind: domain.KindConfiguration, Msg: msg}
}

// FromHTTPStatus classifies a non-2xx response. 408, 429 and 5xx are worth
// retrying; any other 4xx is a rejection.
func FromHTTPStatus(provider, remoteID string, status int, body []byte) *Error {
	msg := fmt.Sprintf("unexpected status %d", status)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		msg += ": " + snippet
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Transient(provider, remoteID, msg, nil)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &Error{Provider: provider, RemoteID: remoteID, Kind: domain.KindConfiguration, Msg: msg}
	default:
		return Failure(provider, remoteID, msg, nil)
	}
}

// FromTransport wraps a transport level failure. Caller cancellation is kept
// as is so shutdown does not look like a provider outage.
func FromTransport(provider, remoteID, op string, err error) error {
	var pe *Error
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) {
		return err
	}
	return Transient(provider, remoteID, op+" failed", err)
}
