package scanner

import (
	"errors"
	"fmt"
	"time"

	"market-signal-engine-go/internal/gateway"
)

var (
	// ErrScanInProgress rejects a scan request while the same asset class is
	// already being scanned.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrUnknownAssetClass is returned for asset classes without a universe.
	ErrUnknownAssetClass = errors.New("unknown asset class")
	// ErrAlertNotFound is returned by DeactivateAlert for unknown ids.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrScanFailed means every symbol of the universe failed. The cooldown
	// is left untouched so the scan can be retried.
	ErrScanFailed = errors.New("every symbol failed")
)

// CooldownActiveError rejects a non-forced scan requested too soon after the
// previous one. It is a normal outcome rather than a fault.
type CooldownActiveError struct {
	AssetClass string
	Remaining  time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("scan of %s is cooling down, try again in %s", e.AssetClass, e.Remaining.Round(time.Second))
}

// RemainingMs is the wait before a scan is accepted, in milliseconds.
func (e *CooldownActiveError) RemainingMs() int64 {
	return e.Remaining.Milliseconds()
}

// ScanFailedError reports a scan in which every symbol failed. It matches
// ErrScanFailed and unwraps to the per-symbol errors.
type ScanFailedError struct {
	AssetClass string
	Failures   []SymbolFailure
}

func (e *ScanFailedError) Error() string {
	return fmt.Sprintf("scan of %s: %s: %s", e.AssetClass, ErrScanFailed, e.UserMessage())
}

func (e *ScanFailedError) Is(target error) bool {
	return target == ErrScanFailed
}

func (e *ScanFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

func (e *ScanFailedError) providerFailures() []*gateway.AllProvidersFailedError {
	out := make([]*gateway.AllProvidersFailedError, 0, len(e.Failures))
	for _, f := range e.Failures {
		var all *gateway.AllProvidersFailedError
		if errors.As(f.Err, &all) {
			out = append(out, all)
		}
	}
	return out
}

// RateLimited is true when every symbol failed because quota ran out.
func (e *ScanFailedError) RateLimited() bool {
	all := e.providerFailures()
	if len(all) == 0 || len(all) != len(e.Failures) {
		return false
	}
	for _, a := range all {
		if !a.RateLimited() {
			return false
		}
	}
	return true
}

// Unavailable is true when market data could not be reached for any symbol
// and the failure is not purely a quota problem.
func (e *ScanFailedError) Unavailable() bool {
	if e.RateLimited() {
		return false
	}
	for _, a := range e.providerFailures() {
		if a.Unavailable() {
			return true
		}
	}
	return false
}

// UserMessage explains the failure in terms a user can act on.
func (e *ScanFailedError) UserMessage() string {
	switch {
	case e.RateLimited():
		return fmt.Sprintf("rate limited: every provider is out of quota for %s, try again later", e.AssetClass)
	case e.Unavailable():
		return fmt.Sprintf("network unavailable: market data for %s could not be reached", e.AssetClass)
	default:
		return fmt.Sprintf("no symbol of %s could be evaluated", e.AssetClass)
	}
}
