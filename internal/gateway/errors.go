package gateway

import (
	"errors"
	"fmt"
	"strings"

	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/provider"

	"go.uber.org/multierr"
)

// ErrNoProviders is returned when the gateway is built with an empty chain.
var ErrNoProviders = errors.New("no providers configured")

// FailureReason classifies why one provider of the chain did not answer.
type FailureReason string

const (
	ReasonExhausted   FailureReason = "exhausted"
	ReasonRateLimited FailureReason = "rate_limited"
	ReasonUnavailable FailureReason = "unavailable"
	ReasonNotFound    FailureReason = "not_found"
	ReasonMalformed   FailureReason = "malformed"
	ReasonFailed      FailureReason = "failed"
)

// ProviderFailure is one entry of AllProvidersFailedError.
type ProviderFailure struct {
	Provider string        `json:"provider"`
	Reason   FailureReason `json:"reason"`
	Err      error         `json:"-"`
}

func classify(err error) FailureReason {
	switch {
	case errors.Is(err, keypool.ErrExhausted):
		return ReasonExhausted
	case errors.Is(err, provider.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, provider.ErrUnavailable):
		return ReasonUnavailable
	case errors.Is(err, provider.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, provider.ErrMalformed):
		return ReasonMalformed
	default:
		return ReasonFailed
	}
}

// AllProvidersFailedError is returned when every provider of the chain failed
// for one symbol. It unwraps to the individual provider errors.
type AllProvidersFailedError struct {
	Symbol    string
	Operation string
	Failures  []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Reason))
	}
	return fmt.Sprintf("all providers failed for %s %s (%s)", e.Operation, e.Symbol, strings.Join(parts, ", "))
}

func (e *AllProvidersFailedError) Unwrap() []error {
	var combined error
	for _, f := range e.Failures {
		combined = multierr.Append(combined, f.Err)
	}
	return multierr.Errors(combined)
}

// RateLimited reports whether every failure was a quota rejection, meaning
// a later retry is likely to succeed.
func (e *AllProvidersFailedError) RateLimited() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if f.Reason != ReasonExhausted && f.Reason != ReasonRateLimited {
			return false
		}
	}
	return true
}

// Unavailable reports whether at least one provider could not be reached.
func (e *AllProvidersFailedError) Unavailable() bool {
	for _, f := range e.Failures {
		if f.Reason == ReasonUnavailable {
			return true
		}
	}
	return false
}

// UserMessage is the actionable text shown for a total failure.
func (e *AllProvidersFailedError) UserMessage() string {
	switch {
	case e.RateLimited():
		return fmt.Sprintf("rate limited: every provider is out of quota for %s, try again later", e.Symbol)
	case e.Unavailable():
		return fmt.Sprintf("network unavailable: market data for %s could not be reached", e.Symbol)
	default:
		return fmt.Sprintf("no provider returned data for %s", e.Symbol)
	}
}
