package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentweave/core"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindTimeout marks a call that exceeded its deadline. Retryable.
	KindTimeout Kind = "timeout"
	// KindRateLimited marks a call rejected by provider throttling. Retryable.
	KindRateLimited Kind = "rate_limited"
	// KindMalformed marks a reply that violated the provider contract.
	// Retrying an already-malformed contract rarely helps, so it never is.
	KindMalformed Kind = "malformed"
)

// ProviderError wraps a failed generation call with its classification.
type ProviderError struct {
	Provider string
	Kind     Kind
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, msg)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ProviderError) Unwrap() error { return e.Err }

// ErrorCode implements core.Coded.
func (e *ProviderError) ErrorCode() core.ErrorCode {
	switch e.Kind {
	case KindRateLimited:
		return core.CodeProviderRateLimited
	case KindMalformed:
		return core.CodeProviderMalformed
	default:
		return core.CodeProviderTimeout
	}
}

// NewTimeout creates a retryable timeout error.
func NewTimeout(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
}

// NewRateLimited creates a retryable throttling error.
func NewRateLimited(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindRateLimited, Err: err}
}

// NewMalformed creates a permanent contract violation error.
func NewMalformed(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformed, Message: message, Err: err}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the error is worth another attempt: provider
// timeouts and rate limits are; malformed replies, cancellation and anything
// unclassified are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if pe, ok := AsProviderError(err); ok {
		return pe.Kind == KindTimeout || pe.Kind == KindRateLimited
	}

	// A bare deadline error without provider classification still reads as a
	// timeout.
	return errors.Is(err, context.DeadlineExceeded)
}
