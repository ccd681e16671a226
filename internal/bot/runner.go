package bot

import (
	"context"

	"go.uber.org/zap"

	"fx-signal-trader/internal/marketdata"
	"fx-signal-trader/internal/model"
)

// CandleSource 提供 K 线, 失败时自行降级
type CandleSource interface {
	SeriesOrSimulated(ctx context.Context, symbol string, tf model.Timeframe, size marketdata.OutputSize) model.CandleSeries
}

type SignalScorer interface {
	GenerateSignal(ctx context.Context, symbol string, tf model.Timeframe, series model.CandleSeries) model.Signal
}

type TradeDispatcher interface {
	Dispatch(ctx context.Context, req model.TradeRequest) model.ExecutionResult
}

// RunRequest 一次机器人运行的参数
type RunRequest struct {
	Symbol      string
	Timeframe   model.Timeframe
	LotSize     float64
	AutoExecute bool
}

// RunResult Execution 为 nil 表示没有下单
type RunResult struct {
	Signal    model.Signal
	Candles   model.CandleSeries
	Execution *model.ExecutionResult
}

// Runner 串联 行情 -> 信号 -> 执行
type Runner struct {
	candles    CandleSource
	scorer     SignalScorer
	dispatcher TradeDispatcher
	size       marketdata.OutputSize
	logger     *zap.SugaredLogger
}

func NewRunner(candles CandleSource, scorer SignalScorer, dispatcher TradeDispatcher, size marketdata.OutputSize, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		candles:    candles,
		scorer:     scorer,
		dispatcher: dispatcher,
		size:       size,
		logger:     logger,
	}
}

// Run flat 信号或未开启自动交易时只返回信号
func (r *Runner) Run(ctx context.Context, req RunRequest) RunResult {
	series := r.candles.SeriesOrSimulated(ctx, req.Symbol, req.Timeframe, r.size)
	signal := r.scorer.GenerateSignal(ctx, req.Symbol, req.Timeframe, series)

	result := RunResult{Signal: signal, Candles: series}
	if !req.AutoExecute || !signal.Side.Tradable() {
		return result
	}

	r.logger.Infow("!!! NEW TRADING SIGNAL !!!", "signal", signal.String(), "lotSize", req.LotSize)
	exec := r.dispatcher.Dispatch(ctx, model.TradeRequest{
		Symbol:  req.Symbol,
		Side:    signal.Side,
		LotSize: req.LotSize,
	})
	result.Execution = &exec
	return result
}
