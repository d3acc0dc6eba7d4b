package scanner

import (
	"context"
	"errors"
	"testing"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainFailure(symbol string, reasons ...gateway.FailureReason) error {
	all := &gateway.AllProvidersFailedError{Symbol: symbol, Operation: "quote"}
	for _, r := range reasons {
		err := provider.ErrUnavailable
		switch r {
		case gateway.ReasonExhausted:
			err = keypool.ErrExhausted
		case gateway.ReasonRateLimited:
			err = provider.ErrRateLimited
		}
		all.Failures = append(all.Failures, gateway.ProviderFailure{Provider: "alphavantage", Reason: r, Err: err})
	}
	return all
}

func TestScanFailedError(t *testing.T) {
	tests := []struct {
		name        string
		errs        map[string]error
		rateLimited bool
		unavailable bool
		message     string
	}{
		{
			name: "AllRateLimited",
			errs: map[string]error{
				"BTC":  chainFailure("BTC", gateway.ReasonRateLimited),
				"ETH":  chainFailure("ETH", gateway.ReasonExhausted),
				"DOGE": chainFailure("DOGE", gateway.ReasonExhausted, gateway.ReasonRateLimited),
			},
			rateLimited: true,
			message:     "rate limited: every provider is out of quota for crypto, try again later",
		},
		{
			name: "AllUnavailable",
			errs: map[string]error{
				"BTC":  chainFailure("BTC", gateway.ReasonUnavailable),
				"ETH":  chainFailure("ETH", gateway.ReasonUnavailable),
				"DOGE": chainFailure("DOGE", gateway.ReasonExhausted, gateway.ReasonUnavailable),
			},
			unavailable: true,
			message:     "network unavailable: market data for crypto could not be reached",
		},
		{
			name: "Mixed",
			errs: map[string]error{
				"BTC":  chainFailure("BTC", gateway.ReasonRateLimited),
				"ETH":  errors.New("boom"),
				"DOGE": errors.New("boom"),
			},
			message: "no symbol of crypto could be evaluated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := defaultData()
			data.errs = tt.errs
			s := newTestScanner(t, testConfig(), data, newTestStore(t), clock.NewFake(t0))

			report, err := s.RequestScan(context.Background(), "crypto", false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrScanFailed)

			var failed *ScanFailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tt.rateLimited, failed.RateLimited())
			assert.Equal(t, tt.unavailable, failed.Unavailable())
			assert.Equal(t, tt.message, failed.UserMessage())
			assert.Contains(t, err.Error(), tt.message)
			assert.Len(t, report.Failures, 3)
			assert.Equal(t, report.Failures, failed.Failures)
		})
	}
}

func TestScanFailedError_Unwrap(t *testing.T) {
	err := &ScanFailedError{AssetClass: "stocks", Failures: []SymbolFailure{
		symbolFailure("AAPL", chainFailure("AAPL", gateway.ReasonExhausted)),
	}}
	assert.ErrorIs(t, err, keypool.ErrExhausted)

	var all *gateway.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, "AAPL", all.Symbol)
}
