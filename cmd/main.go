package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fx-signal-trader/internal/bot"
	"fx-signal-trader/internal/executor"
	"fx-signal-trader/internal/marketdata"
	"fx-signal-trader/internal/server"
	"fx-signal-trader/internal/service"
	"fx-signal-trader/internal/strategy"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := service.LoadConfig("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := service.InitLogger(cfg.App.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer service.Logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		service.Logger.Fatal("Service stopped with error", zap.Error(err))
	}
	service.Logger.Info("Service stopped")
}

func run(ctx context.Context, cfg *service.Config) error {
	logger := service.Logger.With(zap.String("app", cfg.App.Name))
	sugar := logger.Sugar()

	// 1. 行情: 没有 API key 时只用模拟数据
	var provider marketdata.Provider
	if cfg.MarketData.AlphaVantageAPIKey != "" {
		provider = marketdata.NewAlphaVantage(cfg.MarketData, nil, sugar.With("provider", "alphavantage"))
	} else {
		logger.Warn("ALPHA_VANTAGE_API_KEY not set, serving simulated candles")
	}
	simulator := marketdata.NewSimulator(rand.New(rand.NewSource(time.Now().UnixNano())), time.Now)
	source := marketdata.NewSource(provider, simulator, sugar)

	// 2. 信号和执行
	signalGenerator := strategy.NewSignalGenerator(&cfg.Signal.Model, sugar.With("component", "signal"))
	dispatcher := executor.NewDispatcher(cfg.Execution, logger)
	runner := bot.NewRunner(source, signalGenerator, dispatcher,
		marketdata.ParseOutputSize(cfg.MarketData.OutputSize), sugar.With("component", "bot"))

	// 3. HTTP 接口
	api := server.NewAPI(runner, dispatcher, cfg.Signal, cfg.Execution)
	srv := server.NewServer(cfg.App.ListenAddr, logger).Add(api.Routes()...)

	logger.Info("Starting signal service",
		zap.String("symbol", cfg.Signal.DefaultSymbol),
		zap.String("timeframe", cfg.Signal.DefaultTimeframe),
		zap.Bool("autoTrade", cfg.Execution.AutoTrade),
		zap.Any("modes", dispatcher.Modes()))
	return srv.Run(ctx)
}
