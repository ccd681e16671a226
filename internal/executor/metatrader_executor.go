package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-signal-trader/internal/api"
	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

var ErrOrderRejected = errors.New("order rejected by broker")

// 视为成功的回报码
var acceptedRetCodes = map[string]bool{
	"TRADE_RETCODE_DONE":         true,
	"TRADE_RETCODE_DONE_PARTIAL": true,
	"TRADE_RETCODE_PLACED":       true,
}

// PricePrecision 止损止盈价格保留的小数位
const PricePrecision = 5

// MetaTraderExecutor 通过桥接服务向 MetaTrader 账户下市价单
type MetaTraderExecutor struct {
	cfg    service.PrimaryConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewMetaTraderExecutor(cfg service.PrimaryConfig, dialer *websocket.Dialer, logger *zap.Logger) *MetaTraderExecutor {
	return &MetaTraderExecutor{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With(zap.String("executor", "MetaTrader")),
	}
}

func (e *MetaTraderExecutor) Mode() model.ExecutionMode {
	return model.ModePrimary
}

// Submit 连接 -> 等待同步 -> 计算止损止盈 -> 下单, 任一步失败都返回 error
func (e *MetaTraderExecutor) Submit(ctx context.Context, req model.TradeRequest) (model.ExecutionResult, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	conn := api.NewConnector(e.cfg.URL, e.cfg.Token, e.cfg.AccountID, e.dialer, e.logger)
	if err := conn.Connect(ctx); err != nil {
		return model.ExecutionResult{}, err
	}
	defer conn.Close()

	if err := conn.WaitSynchronized(ctx, e.cfg.Timeout); err != nil {
		return model.ExecutionResult{}, err
	}

	order := api.MarketOrder{
		Symbol:     req.Symbol,
		ActionType: actionType(req.Side),
		Volume:     req.LotSize,
		Comment:    e.cfg.Comment,
	}

	if pipsSet(req.StopLossPips) || pipsSet(req.TakeProfitPips) {
		quote, err := conn.SymbolPrice(ctx, req.Symbol)
		if err != nil {
			return model.ExecutionResult{}, err
		}
		spec, err := conn.SymbolSpecification(ctx, req.Symbol)
		if err != nil {
			return model.ExecutionResult{}, err
		}
		order.StopLoss, order.TakeProfit = StopLevels(req, quote, spec.Point)
	}

	e.logger.Info("Sending MetaTrader order...",
		zap.String("Symbol", order.Symbol),
		zap.String("ActionType", order.ActionType),
		zap.Float64("Volume", order.Volume))

	res, err := conn.CreateMarketOrder(ctx, order)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	if !acceptedRetCodes[res.StringCode] {
		return model.ExecutionResult{}, fmt.Errorf("%w: %s (%d) %s", ErrOrderRejected, res.StringCode, res.NumericCode, res.Message)
	}

	return model.ExecutionResult{Executed: true, Mode: model.ModePrimary, Details: res}, nil
}

func actionType(side model.Side) string {
	if side == model.SideSell {
		return "ORDER_TYPE_SELL"
	}
	return "ORDER_TYPE_BUY"
}

// StopLevels 根据点数计算止损止盈价格
// 买单: 止损 = bid - 点数, 止盈 = ask + 点数; 卖单相反
// 点数为 0 视为不设置
func StopLevels(req model.TradeRequest, quote api.Quote, point float64) (sl, tp *float64) {
	sign := 1.0
	if req.Side == model.SideSell {
		sign = -1
	}
	if pipsSet(req.StopLossPips) {
		v := PriceWithPips(quote, point, -sign * *req.StopLossPips)
		sl = &v
	}
	if pipsSet(req.TakeProfitPips) {
		v := PriceWithPips(quote, point, sign * *req.TakeProfitPips)
		tp = &v
	}
	return sl, tp
}

func pipsSet(pips *float64) bool {
	return pips != nil && *pips > 0
}

// PriceWithPips 正偏移以 ask 为基准, 负偏移以 bid 为基准, 1 pip = 10 point
func PriceWithPips(quote api.Quote, point, pips float64) float64 {
	base := quote.Ask
	if pips < 0 {
		base = quote.Bid
	}
	pip := decimal.NewFromFloat(point).Mul(decimal.NewFromInt(10))
	price := decimal.NewFromFloat(base).Add(decimal.NewFromFloat(pips).Mul(pip))
	return price.Round(PricePrecision).InexactFloat64()
}
