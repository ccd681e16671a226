package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fx-signal-trader/internal/api"
	"fx-signal-trader/internal/api/bridgetest"
	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

func pips(v float64) *float64 { return &v }

func buyRequest() model.TradeRequest {
	return model.TradeRequest{Symbol: "EURUSD", Side: model.SideBuy, LotSize: 0.1}
}

func primaryConfig(srv *bridgetest.Server) service.PrimaryConfig {
	return service.PrimaryConfig{
		Token:     "token",
		AccountID: "acc-1",
		URL:       srv.WSURL(),
		Comment:   "agentic-bot",
		Timeout:   5 * time.Second,
	}
}

func webhookServer(t *testing.T, status int, body string, got chan<- []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if got != nil {
			payload, _ := io.ReadAll(r.Body)
			got <- payload
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchPaperOnly(t *testing.T) {
	d := NewDispatcher(service.ExecutionConfig{}, zap.NewNop(), WithClock(fixedNow))
	assert.Equal(t, []model.ExecutionMode{model.ModePaper}, d.Modes())

	req := buyRequest()
	res := d.Dispatch(context.Background(), req)
	assert.True(t, res.Executed)
	assert.Equal(t, model.ModePaper, res.Mode)

	details, ok := res.Details.(PaperDetails)
	require.True(t, ok)
	assert.Equal(t, "Paper trade executed (simulation)", details.Message)
	assert.Equal(t, req, details.Request)
	assert.NotEmpty(t, details.ID)

	fills := d.Paper().Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, details.ID, fills[0].ID)
	assert.Equal(t, fixedNow(), fills[0].Time)
}

func TestDispatchWebhookAccepted(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := webhookServer(t, http.StatusOK, `{"accepted":true}`, bodies)

	cfg := service.ExecutionConfig{Webhook: service.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second}}
	d := NewDispatcher(cfg, zap.NewNop(), WithClock(fixedNow))
	assert.Equal(t, []model.ExecutionMode{model.ModeWebhook, model.ModePaper}, d.Modes())

	req := buyRequest()
	req.StopLossPips = pips(20)
	res := d.Dispatch(context.Background(), req)

	assert.True(t, res.Executed)
	assert.Equal(t, model.ModeWebhook, res.Mode)
	details, ok := res.Details.(WebhookDetails)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, details.Status)
	assert.JSONEq(t, `{"accepted":true}`, string(details.Body.(json.RawMessage)))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(<-bodies, &sent))
	assert.Equal(t, "EURUSD", sent["symbol"])
	assert.Equal(t, "buy", sent["side"])
	assert.Equal(t, 0.1, sent["lotSize"])
	assert.Equal(t, 20.0, sent["stopLossPips"])
	assert.NotContains(t, sent, "takeProfitPips")
	assert.Equal(t, float64(fixedNow().UnixMilli()), sent["ts"])
	assert.NotEmpty(t, sent["id"])

	assert.Empty(t, d.Paper().Fills())
}

func TestDispatchWebhookRejectedIsFinal(t *testing.T) {
	srv := webhookServer(t, http.StatusInternalServerError, "boom", nil)

	cfg := service.ExecutionConfig{Webhook: service.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second}}
	d := NewDispatcher(cfg, zap.NewNop())

	res := d.Dispatch(context.Background(), buyRequest())
	assert.False(t, res.Executed)
	assert.Equal(t, model.ModeWebhook, res.Mode)
	assert.Equal(t, WebhookDetails{Status: http.StatusInternalServerError, Body: "boom"}, res.Details)
	assert.Empty(t, d.Paper().Fills())
}

func TestDispatchWebhookUnreachableFallsToPaper(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	cfg := service.ExecutionConfig{Webhook: service.WebhookConfig{URL: url, Timeout: time.Second}}
	d := NewDispatcher(cfg, zap.New(core))

	res := d.Dispatch(context.Background(), buyRequest())
	assert.True(t, res.Executed)
	assert.Equal(t, model.ModePaper, res.Mode)
	assert.Len(t, d.Paper().Fills(), 1)

	failures := logs.FilterMessage("Execution backend failed, trying next").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "webhook", failures[0].ContextMap()["mode"])
}

func TestDispatchPrimaryPlacesOrderWithStops(t *testing.T) {
	bridge := bridgetest.NewServer(func(s *bridgetest.Server) { s.Token = "token" })
	defer bridge.Close()

	cfg := service.ExecutionConfig{Primary: primaryConfig(bridge)}
	d := NewDispatcher(cfg, zap.NewNop())
	assert.Equal(t, []model.ExecutionMode{model.ModePrimary, model.ModePaper}, d.Modes())

	req := buyRequest()
	req.StopLossPips = pips(20)
	req.TakeProfitPips = pips(40)
	res := d.Dispatch(context.Background(), req)

	assert.True(t, res.Executed)
	assert.Equal(t, model.ModePrimary, res.Mode)
	details, ok := res.Details.(api.OrderResult)
	require.True(t, ok)
	assert.Equal(t, "1001", details.OrderID)

	orders := bridge.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "ORDER_TYPE_BUY", orders[0].ActionType)
	assert.Equal(t, "agentic-bot", orders[0].Comment)
	require.NotNil(t, orders[0].StopLoss)
	require.NotNil(t, orders[0].TakeProfit)
	assert.Equal(t, 1.098, *orders[0].StopLoss)
	assert.Equal(t, 1.1042, *orders[0].TakeProfit)
	assert.Empty(t, d.Paper().Fills())
}

func TestDispatchPrimaryWithoutStopsSkipsQuote(t *testing.T) {
	bridge := bridgetest.NewServer()
	defer bridge.Close()

	d := NewDispatcher(service.ExecutionConfig{Primary: primaryConfig(bridge)}, zap.NewNop())
	req := model.TradeRequest{Symbol: "EURUSD", Side: model.SideSell, LotSize: 0.2}
	res := d.Dispatch(context.Background(), req)

	assert.Equal(t, model.ModePrimary, res.Mode)
	assert.Equal(t, []string{"waitSynchronized", "trade"}, bridge.Methods())
	orders := bridge.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "ORDER_TYPE_SELL", orders[0].ActionType)
	assert.Nil(t, orders[0].StopLoss)
	assert.Nil(t, orders[0].TakeProfit)
}

func TestDispatchPrimaryZeroPipsSendsNoStops(t *testing.T) {
	bridge := bridgetest.NewServer()
	defer bridge.Close()

	d := NewDispatcher(service.ExecutionConfig{Primary: primaryConfig(bridge)}, zap.NewNop())
	req := model.TradeRequest{Symbol: "EURUSD", Side: model.SideBuy, LotSize: 0.2, StopLossPips: pips(0), TakeProfitPips: pips(0)}
	require.NoError(t, model.ValidateTradeRequest(req))
	res := d.Dispatch(context.Background(), req)

	assert.True(t, res.Executed)
	assert.Equal(t, model.ModePrimary, res.Mode)
	assert.Equal(t, []string{"waitSynchronized", "trade"}, bridge.Methods())
	orders := bridge.Orders()
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].StopLoss)
	assert.Nil(t, orders[0].TakeProfit)
}

func TestDispatchPrimaryFailureFallsToWebhook(t *testing.T) {
	bridge := bridgetest.NewServer(func(s *bridgetest.Server) { s.FailMethod = "trade" })
	defer bridge.Close()
	hook := webhookServer(t, http.StatusAccepted, "", nil)

	cfg := service.ExecutionConfig{
		Primary: primaryConfig(bridge),
		Webhook: service.WebhookConfig{URL: hook.URL, Timeout: 5 * time.Second},
	}
	d := NewDispatcher(cfg, zap.NewNop())
	assert.Equal(t, []model.ExecutionMode{model.ModePrimary, model.ModeWebhook, model.ModePaper}, d.Modes())

	res := d.Dispatch(context.Background(), buyRequest())
	assert.True(t, res.Executed)
	assert.Equal(t, model.ModeWebhook, res.Mode)
	assert.Equal(t, WebhookDetails{Status: http.StatusAccepted}, res.Details)
}

func TestDispatchPrimaryRejectedRetCodeFallsToPaper(t *testing.T) {
	bridge := bridgetest.NewServer(func(s *bridgetest.Server) { s.RetCode = "TRADE_RETCODE_NO_MONEY" })
	defer bridge.Close()

	d := NewDispatcher(service.ExecutionConfig{Primary: primaryConfig(bridge)}, zap.NewNop())
	res := d.Dispatch(context.Background(), buyRequest())
	assert.Equal(t, model.ModePaper, res.Mode)
	assert.True(t, res.Executed)
	assert.Len(t, bridge.Orders(), 1)
}

func TestDispatchPrimaryNotSynchronizedFallsToPaper(t *testing.T) {
	bridge := bridgetest.NewServer(func(s *bridgetest.Server) { s.Synchronized = false })
	defer bridge.Close()

	d := NewDispatcher(service.ExecutionConfig{Primary: primaryConfig(bridge)}, zap.NewNop())
	res := d.Dispatch(context.Background(), buyRequest())
	assert.Equal(t, model.ModePaper, res.Mode)
	assert.Empty(t, bridge.Orders())
}

func TestDispatcherSkipsPartialPrimaryCredentials(t *testing.T) {
	cfg := service.ExecutionConfig{Primary: service.PrimaryConfig{Token: "token"}}
	d := NewDispatcher(cfg, zap.NewNop())
	assert.Equal(t, []model.ExecutionMode{model.ModePaper}, d.Modes())
}

func TestStopLevels(t *testing.T) {
	quote := api.Quote{Bid: 1.1, Ask: 1.1002}
	point := 0.00001

	tests := []struct {
		name   string
		side   model.Side
		sl, tp *float64
		wantSL *float64
		wantTP *float64
	}{
		{name: "buy", side: model.SideBuy, sl: pips(20), tp: pips(40), wantSL: pips(1.098), wantTP: pips(1.1042)},
		{name: "sell", side: model.SideSell, sl: pips(20), tp: pips(40), wantSL: pips(1.1022), wantTP: pips(1.096)},
		{name: "sell tp only", side: model.SideSell, tp: pips(15), wantTP: pips(1.0985)},
		{name: "none", side: model.SideBuy},
		{name: "zero pips buy", side: model.SideBuy, sl: pips(0), tp: pips(0)},
		{name: "zero pips sell", side: model.SideSell, sl: pips(0), tp: pips(0)},
		{name: "zero sl keeps tp", side: model.SideBuy, sl: pips(0), tp: pips(40), wantTP: pips(1.1042)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := model.TradeRequest{Symbol: "EURUSD", Side: tt.side, LotSize: 1, StopLossPips: tt.sl, TakeProfitPips: tt.tp}
			sl, tp := StopLevels(req, quote, point)
			assert.Equal(t, tt.wantSL, sl)
			assert.Equal(t, tt.wantTP, tp)
		})
	}
}

func TestPriceWithPipsRoundsToFiveDecimals(t *testing.T) {
	quote := api.Quote{Bid: 1.234561, Ask: 1.234569}
	assert.Equal(t, 1.23467, PriceWithPips(quote, 0.00001, 1))
	assert.Equal(t, 1.23446, PriceWithPips(quote, 0.00001, -1))
	// JPY 报价 point 0.001
	assert.Equal(t, 150.25, PriceWithPips(api.Quote{Bid: 150.0, Ask: 150.05}, 0.001, 20))
}

func TestPaperExposure(t *testing.T) {
	paper := NewSimulatorExecutor(fixedNow, zap.NewNop())
	paper.Fill(model.TradeRequest{Symbol: "EURUSD", Side: model.SideBuy, LotSize: 0.3})
	paper.Fill(model.TradeRequest{Symbol: "EURUSD", Side: model.SideSell, LotSize: 0.1})
	paper.Fill(model.TradeRequest{Symbol: "USDJPY", Side: model.SideSell, LotSize: 1})

	assert.InDelta(t, 0.2, paper.Exposure("EURUSD"), 1e-12)
	assert.Equal(t, -1.0, paper.Exposure("USDJPY"))
	assert.Len(t, paper.Fills(), 3)
}

func TestPaperLedgerKeepsLatestFills(t *testing.T) {
	paper := NewSimulatorExecutor(fixedNow, zap.NewNop())
	for i := 0; i < MaxPaperFills+5; i++ {
		paper.Fill(model.TradeRequest{Symbol: "EURUSD", Side: model.SideBuy, LotSize: float64(i + 1)})
	}

	fills := paper.Fills()
	require.Len(t, fills, MaxPaperFills)
	assert.Equal(t, 6.0, fills[0].Request.LotSize)
	assert.Equal(t, float64(MaxPaperFills+5), fills[len(fills)-1].Request.LotSize)

	// 净头寸包含被丢弃的成交
	n := float64(MaxPaperFills + 5)
	assert.Equal(t, n*(n+1)/2, paper.Exposure("EURUSD"))
}
