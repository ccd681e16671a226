package server

import (
	"errors"
	"fmt"
	"net/http"

	"fx-signal-trader/internal/bot"
	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

// 返回给前端的 K 线数量上限
const candlesInResponse = 120

var errInvalidTrade = errors.New("symbol, side, lotSize required")

// API 信号与交易接口
type API struct {
	runner     *bot.Runner
	dispatcher bot.TradeDispatcher
	signalCfg  service.SignalConfig
	execCfg    service.ExecutionConfig
}

func NewAPI(runner *bot.Runner, dispatcher bot.TradeDispatcher, signalCfg service.SignalConfig, execCfg service.ExecutionConfig) *API {
	return &API{runner: runner, dispatcher: dispatcher, signalCfg: signalCfg, execCfg: execCfg}
}

// Routes 返回全部接口
func (a *API) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/api/signal", Exec: a.signal},
		{Method: http.MethodGet, Path: "/api/bot", Exec: a.botPreview},
		{Method: http.MethodPost, Path: "/api/bot", Exec: a.botRun},
		{Method: http.MethodPost, Path: "/api/trade", Exec: a.trade},
	}
}

type signalResponse struct {
	OK      bool               `json:"ok"`
	Signal  model.Signal       `json:"signal"`
	Candles model.CandleSeries `json:"candles"`
}

type botResponse struct {
	OK        bool                   `json:"ok"`
	Signal    model.Signal           `json:"signal"`
	Execution *model.ExecutionResult `json:"execution"`
	LotSize   float64                `json:"lotSize"`
}

type tradeResponse struct {
	OK     bool                  `json:"ok"`
	Result model.ExecutionResult `json:"result"`
}

// botRequest POST /api/bot 的请求体, 缺省字段取配置
type botRequest struct {
	Symbol      string   `json:"symbol"`
	Timeframe   string   `json:"timeframe"`
	LotSize     *float64 `json:"lotSize" validate:"omitempty,gt=0"`
	AutoExecute *bool    `json:"autoExecute"`
}

func (a *API) signal(r *http.Request) ([]byte, int, error) {
	q := r.URL.Query()
	symbol, tf, err := a.market(q.Get("symbol"), q.Get("timeframe"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	res := a.runner.Run(r.Context(), bot.RunRequest{Symbol: symbol, Timeframe: tf})
	return JSONWrite(signalResponse{OK: true, Signal: res.Signal, Candles: res.Candles.Tail(candlesInResponse)}, http.StatusOK)
}

// botPreview 只生成信号, 不下单
func (a *API) botPreview(r *http.Request) ([]byte, int, error) {
	q := r.URL.Query()
	symbol, tf, err := a.market(q.Get("symbol"), q.Get("timeframe"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	lotSize := a.execCfg.DefaultLotSize
	if raw := q.Get("lotSize"); raw != "" {
		lotSize, err = service.StringToFloat(raw)
		if err != nil || lotSize <= 0 {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid lotSize %q", raw)
		}
	}

	res := a.runner.Run(r.Context(), bot.RunRequest{Symbol: symbol, Timeframe: tf, LotSize: lotSize})
	return JSONWrite(botResponse{OK: true, Signal: res.Signal, LotSize: lotSize}, http.StatusOK)
}

func (a *API) botRun(r *http.Request) ([]byte, int, error) {
	var body botRequest
	if err := JSONRead(r, &body); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if err := model.ValidateStruct(body); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid bot request: %w", err)
	}
	symbol, tf, err := a.market(body.Symbol, body.Timeframe)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	req := bot.RunRequest{
		Symbol:      symbol,
		Timeframe:   tf,
		LotSize:     a.execCfg.DefaultLotSize,
		AutoExecute: a.execCfg.AutoTrade,
	}
	if body.LotSize != nil {
		req.LotSize = *body.LotSize
	}
	if body.AutoExecute != nil {
		req.AutoExecute = *body.AutoExecute
	}

	res := a.runner.Run(r.Context(), req)
	return JSONWrite(botResponse{OK: true, Signal: res.Signal, Execution: res.Execution, LotSize: req.LotSize}, http.StatusOK)
}

func (a *API) trade(r *http.Request) ([]byte, int, error) {
	var req model.TradeRequest
	if err := JSONRead(r, &req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if err := model.ValidateTradeRequest(req); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("%w: %v", errInvalidTrade, err)
	}
	symbol, err := service.ParseSymbol(req.Symbol)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.Symbol = symbol

	result := a.dispatcher.Dispatch(r.Context(), req)
	return JSONWrite(tradeResponse{OK: true, Result: result}, http.StatusOK)
}

// market 解析品种和周期, 空值取默认配置
func (a *API) market(rawSymbol, rawTimeframe string) (string, model.Timeframe, error) {
	if rawSymbol == "" {
		rawSymbol = a.signalCfg.DefaultSymbol
	}
	if rawTimeframe == "" {
		rawTimeframe = a.signalCfg.DefaultTimeframe
	}
	symbol, err := service.ParseSymbol(rawSymbol)
	if err != nil {
		return "", "", err
	}
	tf, err := service.ParseTimeframe(rawTimeframe)
	if err != nil {
		return "", "", err
	}
	return symbol, tf, nil
}
