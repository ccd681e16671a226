package marketdata

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

const intradayResponse = `{
  "Meta Data": {"1. Information": "FX Intraday (5min) Time Series", "2. From Symbol": "EUR"},
  "Time Series FX (5min)": {
    "2024-01-02 10:05:00": {"1. open": "1.0955", "2. high": "1.0960", "3. low": "1.0950", "4. close": "1.0958"},
    "2024-01-02 10:00:00": {"1. open": "1.0950", "2. high": "1.0957", "3. low": "1.0948", "4. close": "1.0955"},
    "2024-01-02 10:10:00": {"1. open": "1.0958", "2. high": "1.0962", "3. low": "1.0952", "4. close": "1.0953", "5. volume": "120"}
  }
}`

func newAlphaVantage(t *testing.T, handler http.HandlerFunc) *AlphaVantage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := service.MarketDataConfig{AlphaVantageAPIKey: "demo", BaseURL: srv.URL, Timeout: 5 * time.Second}
	return NewAlphaVantage(cfg, nil, zap.NewNop().Sugar())
}

func TestAlphaVantageFetchCandles(t *testing.T) {
	av := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "FX_INTRADAY", q.Get("function"))
		assert.Equal(t, "EUR", q.Get("from_symbol"))
		assert.Equal(t, "USD", q.Get("to_symbol"))
		assert.Equal(t, "5min", q.Get("interval"))
		assert.Equal(t, "compact", q.Get("outputsize"))
		assert.Equal(t, "demo", q.Get("apikey"))
		_, _ = w.Write([]byte(intradayResponse))
	})

	series, err := av.FetchCandles(context.Background(), "eur/usd", model.Timeframe5m, OutputCompact)
	require.NoError(t, err)
	require.Len(t, series, 3)

	first := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, first, series[0].Time)
	assert.Equal(t, first+5*60_000, series[1].Time)
	assert.Equal(t, first+10*60_000, series[2].Time)
	assert.Equal(t, 1.0955, series[0].Close)
	assert.Equal(t, 1.0962, series[2].High)
	assert.Nil(t, series[0].Volume)
	require.NotNil(t, series[2].Volume)
	assert.Equal(t, 120.0, *series[2].Volume)
}

func TestAlphaVantageErrors(t *testing.T) {
	t.Run("api message", func(t *testing.T) {
		av := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
		})
		_, err := av.FetchCandles(context.Background(), "EURUSD", model.Timeframe5m, OutputCompact)
		assert.ErrorIs(t, err, ErrNoTimeSeries)
		assert.Contains(t, err.Error(), "rate limit")
	})

	t.Run("http status", func(t *testing.T) {
		av := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := av.FetchCandles(context.Background(), "EURUSD", model.Timeframe5m, OutputCompact)
		assert.ErrorContains(t, err, "status 502")
	})

	t.Run("bad symbol", func(t *testing.T) {
		av := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent")
		})
		_, err := av.FetchCandles(context.Background(), "EURUSDT", model.Timeframe5m, OutputCompact)
		assert.ErrorIs(t, err, service.ErrUnsupportedSymbol)
	})

	t.Run("missing key", func(t *testing.T) {
		av := NewAlphaVantage(service.MarketDataConfig{}, nil, zap.NewNop().Sugar())
		_, err := av.FetchCandles(context.Background(), "EURUSD", model.Timeframe5m, OutputCompact)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) FetchCandles(context.Context, string, model.Timeframe, OutputSize) (model.CandleSeries, error) {
	return nil, errors.New("upstream down")
}

func TestSourceFallsBackToSimulated(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sim := NewSimulator(rand.New(rand.NewSource(1)), func() time.Time { return now })
	src := NewSource(failingProvider{}, sim, zap.New(core).Sugar())

	series := src.SeriesOrSimulated(context.Background(), "EURUSD", model.Timeframe15m, OutputCompact)
	require.Len(t, series, 120)
	assert.Equal(t, now.UnixMilli(), series[len(series)-1].Time)
	assert.Equal(t, 1, logs.FilterMessage("Candle fetch failed, using simulated series").Len())

	noProvider := NewSource(nil, sim, zap.NewNop().Sugar())
	assert.Len(t, noProvider.SeriesOrSimulated(context.Background(), "EURUSD", model.Timeframe5m, OutputFull), 1000)
}

func TestSimulatorShape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gen := func() model.CandleSeries {
		return NewSimulator(rand.New(rand.NewSource(9)), func() time.Time { return now }).Generate(model.Timeframe5m, OutputCompact)
	}
	series := gen()
	require.Len(t, series, 120)
	assert.Equal(t, series, gen())

	assert.Equal(t, 1.1, series[0].Open)
	for i, c := range series {
		assert.GreaterOrEqual(t, c.High, math.Max(c.Open, c.Close))
		assert.LessOrEqual(t, c.Low, math.Min(c.Open, c.Close))
		assert.GreaterOrEqual(t, c.Close, 0.2)
		assert.LessOrEqual(t, math.Abs(c.Close-c.Open), 0.0003+1e-12)
		if i > 0 {
			assert.Equal(t, int64(5*60_000), c.Time-series[i-1].Time)
			assert.Equal(t, series[i-1].Close, c.Open)
		}
	}
}

func TestParseOutputSize(t *testing.T) {
	assert.Equal(t, OutputFull, ParseOutputSize("full"))
	assert.Equal(t, OutputCompact, ParseOutputSize("compact"))
	assert.Equal(t, OutputCompact, ParseOutputSize(""))
}
