package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"market-signal-engine-go/internal/cache"
	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProvider is a mock implementation of provider.Provider.
type MockProvider struct {
	mock.Mock
	name    string
	limited bool
}

func newMockProvider(name string, limited bool) *MockProvider {
	return &MockProvider{name: name, limited: limited}
}

func (m *MockProvider) Name() string       { return m.name }
func (m *MockProvider) QuotaLimited() bool { return m.limited }

func (m *MockProvider) Quote(ctx context.Context, symbol, apiKey string) (models.Quote, error) {
	args := m.Called(symbol, apiKey)
	return args.Get(0).(models.Quote), args.Error(1)
}

func (m *MockProvider) Historical(ctx context.Context, symbol string, days int, apiKey string) (models.PriceSeries, error) {
	args := m.Called(symbol, days, apiKey)
	s, _ := args.Get(0).(models.PriceSeries)
	return s, args.Error(1)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newPool(t *testing.T, limit int) *keypool.Pool {
	t.Helper()
	p, err := keypool.NewPool([]models.ProviderCredential{
		{ID: "av-1", ProviderName: "alphavantage", Secret: "s1", DailyLimit: limit},
	}, zap.NewNop(), keypool.WithClock(clock.NewFake(t0)))
	require.NoError(t, err)
	return p
}

func used(t *testing.T, p *keypool.Pool) int {
	t.Helper()
	creds := p.Credentials()
	require.Len(t, creds, 1)
	return creds[0].Used
}

func TestFetchQuote_FirstProviderWins(t *testing.T) {
	free := newMockProvider("binance", false)
	paid := newMockProvider("alphavantage", true)
	free.On("Quote", "BTC", "").Return(models.Quote{Symbol: "BTC", Price: 100, Source: "binance"}, nil)

	g, err := New([]provider.Provider{free, paid}, newPool(t, 5), zap.NewNop())
	require.NoError(t, err)

	q, err := g.FetchQuote(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "binance", q.Source)
	free.AssertExpectations(t)
	paid.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
}

func TestFetchQuote_FallsBackAndChargesKey(t *testing.T) {
	free := newMockProvider("binance", false)
	paid := newMockProvider("alphavantage", true)
	free.On("Quote", "AAPL", "").Return(models.Quote{}, fmt.Errorf("down: %w", provider.ErrUnavailable))
	paid.On("Quote", "AAPL", "s1").Return(models.Quote{Symbol: "AAPL", Price: 190, Source: "alphavantage"}, nil)

	pool := newPool(t, 5)
	g, err := New([]provider.Provider{free, paid}, pool, zap.NewNop())
	require.NoError(t, err)

	q, err := g.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", q.Source)
	assert.Equal(t, 1, used(t, pool))
	free.AssertExpectations(t)
	paid.AssertExpectations(t)
}

func TestFetchQuote_ExhaustedProviderSkippedWithoutCall(t *testing.T) {
	paid := newMockProvider("alphavantage", true)
	free := newMockProvider("coingecko", false)
	free.On("Quote", "ETH", "").Return(models.Quote{Symbol: "ETH", Price: 3000}, nil)

	pool := newPool(t, 1)
	h, err := pool.Acquire("alphavantage")
	require.NoError(t, err)
	require.NoError(t, pool.RecordUsage(h, 1))

	g, err := New([]provider.Provider{paid, free}, pool, zap.NewNop())
	require.NoError(t, err)

	_, err = g.FetchQuote(context.Background(), "ETH")
	require.NoError(t, err)
	paid.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
}

func TestFetchQuote_RateLimitMarksExhausted(t *testing.T) {
	paid := newMockProvider("alphavantage", true)
	paid.On("Quote", "IBM", "s1").Return(models.Quote{}, fmt.Errorf("note: %w", provider.ErrRateLimited)).Once()

	pool := newPool(t, 25)
	g, err := New([]provider.Provider{paid}, pool, zap.NewNop())
	require.NoError(t, err)

	_, err = g.FetchQuote(context.Background(), "IBM")
	var all *AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.True(t, all.RateLimited())
	assert.Contains(t, all.UserMessage(), "rate limited")
	assert.Equal(t, 25, used(t, pool))

	// The key is now exhausted, so the second call never reaches the vendor.
	_, err = g.FetchQuote(context.Background(), "IBM")
	require.ErrorAs(t, err, &all)
	assert.Equal(t, ReasonExhausted, all.Failures[0].Reason)
	paid.AssertNumberOfCalls(t, "Quote", 1)
}

func TestFetchQuote_TransportFailureNotCharged(t *testing.T) {
	paid := newMockProvider("alphavantage", true)
	paid.On("Quote", "IBM", "s1").Return(models.Quote{}, provider.ErrUnavailable)

	pool := newPool(t, 5)
	g, err := New([]provider.Provider{paid}, pool, zap.NewNop())
	require.NoError(t, err)

	_, err = g.FetchQuote(context.Background(), "IBM")
	var all *AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.True(t, all.Unavailable())
	assert.False(t, all.RateLimited())
	assert.Contains(t, all.UserMessage(), "network unavailable")
	assert.Equal(t, 0, used(t, pool))
	assert.Equal(t, 5, pool.UsageStatistics().AvailableRequests)
}

func TestFetchQuote_AllFailedUnwraps(t *testing.T) {
	a := newMockProvider("binance", false)
	b := newMockProvider("coingecko", false)
	a.On("Quote", "XYZ", "").Return(models.Quote{}, provider.ErrNotFound)
	b.On("Quote", "XYZ", "").Return(models.Quote{}, provider.ErrMalformed)

	g, err := New([]provider.Provider{a, b}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = g.FetchQuote(context.Background(), "XYZ")
	var all *AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Failures, 2)
	assert.Equal(t, ReasonNotFound, all.Failures[0].Reason)
	assert.Equal(t, ReasonMalformed, all.Failures[1].Reason)
	assert.ErrorIs(t, err, provider.ErrNotFound)
	assert.ErrorIs(t, err, provider.ErrMalformed)
	assert.Contains(t, err.Error(), "binance: not_found")
}

func TestFetchQuote_CacheShortCircuits(t *testing.T) {
	free := newMockProvider("binance", false)
	free.On("Quote", "BTC", "").Return(models.Quote{Symbol: "BTC", Price: 100}, nil).Once()

	fc := clock.NewFake(t0)
	g, err := New([]provider.Provider{free}, nil, zap.NewNop(), WithCache(cache.NewMemory(time.Minute, 10, fc)))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		q, err := g.FetchQuote(context.Background(), "BTC")
		require.NoError(t, err)
		assert.Equal(t, 100.0, q.Price)
	}
	free.AssertNumberOfCalls(t, "Quote", 1)
}

func TestFetchHistorical(t *testing.T) {
	series := models.PriceSeries{
		{Timestamp: t0, Close: 10},
		{Timestamp: t0.Add(24 * time.Hour), Close: 11},
	}
	broken := models.PriceSeries{
		{Timestamp: t0, Close: 10},
		{Timestamp: t0, Close: 11},
	}
	a := newMockProvider("binance", false)
	b := newMockProvider("coingecko", false)
	a.On("Historical", "SOL", 2, "").Return(broken, nil)
	b.On("Historical", "SOL", 2, "").Return(series, nil)

	g, err := New([]provider.Provider{a, b}, nil, zap.NewNop())
	require.NoError(t, err)

	got, err := g.FetchHistorical(context.Background(), "SOL", 2)
	require.NoError(t, err)
	assert.Equal(t, series, got)

	_, err = g.FetchHistorical(context.Background(), "SOL", 0)
	assert.Error(t, err)
}

func TestFetchQuotes_PartialFailure(t *testing.T) {
	free := newMockProvider("binance", false)
	free.On("Quote", "BTC", "").Return(models.Quote{Symbol: "BTC", Price: 1}, nil)
	free.On("Quote", "BAD", "").Return(models.Quote{}, provider.ErrNotFound)
	free.On("Quote", "ETH", "").Return(models.Quote{Symbol: "ETH", Price: 2}, nil)

	g, err := New([]provider.Provider{free}, nil, zap.NewNop())
	require.NoError(t, err)

	quotes, failures, err := g.FetchQuotes(context.Background(), []string{"BTC", "BAD", "ETH"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, "ETH", quotes[1].Symbol)
	require.Contains(t, failures, "BAD")
}

func TestFetchQuote_CancelledContext(t *testing.T) {
	free := newMockProvider("binance", false)
	g, err := New([]provider.Provider{free}, nil, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.FetchQuote(ctx, "BTC")
	assert.True(t, errors.Is(err, context.Canceled))
	free.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
}

func TestNew_NoProviders(t *testing.T) {
	_, err := New(nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoProviders)
}
