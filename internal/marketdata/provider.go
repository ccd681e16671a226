package marketdata

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"fx-signal-trader/internal/metrics"
	"fx-signal-trader/internal/model"
)

var ErrNoTimeSeries = errors.New("no time series in response")

// OutputSize 行情条数: compact 约 100 根, full 为全部历史
type OutputSize string

const (
	OutputCompact OutputSize = "compact"
	OutputFull    OutputSize = "full"
)

// ParseOutputSize 未知取值按 compact 处理
func ParseOutputSize(s string) OutputSize {
	if OutputSize(s) == OutputFull {
		return OutputFull
	}
	return OutputCompact
}

// Provider K 线数据源
type Provider interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, size OutputSize) (model.CandleSeries, error)
}

// Source 优先使用真实数据源, 失败时使用模拟序列
type Source struct {
	provider  Provider
	simulator *Simulator
	logger    *zap.SugaredLogger
}

// NewSource provider 为 nil 时总是返回模拟序列
func NewSource(provider Provider, simulator *Simulator, logger *zap.SugaredLogger) *Source {
	return &Source{provider: provider, simulator: simulator, logger: logger}
}

// SeriesOrSimulated 获取 K 线, 数据源不可用时退回随机游走序列
func (s *Source) SeriesOrSimulated(ctx context.Context, symbol string, tf model.Timeframe, size OutputSize) model.CandleSeries {
	if s.provider == nil {
		return s.simulator.Generate(tf, size)
	}

	series, err := s.provider.FetchCandles(ctx, symbol, tf, size)
	if err == nil {
		return series
	}

	metrics.CandleFetchFailuresTotal.WithLabelValues(s.provider.Name()).Inc()
	s.logger.Warnw("Candle fetch failed, using simulated series",
		"provider", s.provider.Name(), "symbol", symbol, "timeframe", tf, "error", err)
	return s.simulator.Generate(tf, size)
}
