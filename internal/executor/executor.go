package executor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fx-signal-trader/internal/metrics"
	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

// Backend 是交易执行后端的通用接口
// 返回 error 表示本次尝试失败, 调度器会继续尝试下一个后端
// 返回结果 (即使 Executed=false) 表示该后端已给出最终答复
type Backend interface {
	Mode() model.ExecutionMode
	Submit(ctx context.Context, req model.TradeRequest) (model.ExecutionResult, error)
}

// Dispatcher 按 primary -> webhook -> paper 的顺序逐个尝试, 同一时刻只有一个后端在执行
// 已在远端成交但本地未确认的订单视为失败, 不做回滚
type Dispatcher struct {
	backends []Backend
	paper    *SimulatorExecutor
	logger   *zap.Logger
}

type options struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	now        func() time.Time
}

// Option 用于替换外部依赖 (测试中使用)
type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewDispatcher 根据配置构建执行链, 未配置凭证或地址的后端直接跳过
func NewDispatcher(cfg service.ExecutionConfig, logger *zap.Logger, opts ...Option) *Dispatcher {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher{logger: logger.With(zap.String("component", "dispatcher"))}

	if cfg.Primary.Enabled() {
		d.backends = append(d.backends, NewMetaTraderExecutor(cfg.Primary, o.dialer, logger))
	}
	if cfg.Webhook.Enabled() {
		d.backends = append(d.backends, NewWebhookExecutor(cfg.Webhook, o.httpClient, o.now, logger))
	}
	d.paper = NewSimulatorExecutor(o.now, logger)
	d.backends = append(d.backends, d.paper)

	modes := make([]string, len(d.backends))
	for i, b := range d.backends {
		modes[i] = string(b.Mode())
	}
	d.logger.Info("Execution chain configured", zap.Strings("modes", modes))
	return d
}

// Dispatch 执行交易请求, 总能返回一个结果
func (d *Dispatcher) Dispatch(ctx context.Context, req model.TradeRequest) model.ExecutionResult {
	for _, b := range d.backends {
		res, err := b.Submit(ctx, req)
		if err != nil {
			metrics.BackendFailuresTotal.WithLabelValues(string(b.Mode())).Inc()
			d.logger.Warn("Execution backend failed, trying next",
				zap.String("mode", string(b.Mode())),
				zap.String("symbol", req.Symbol),
				zap.String("side", string(req.Side)),
				zap.Error(err))
			continue
		}
		d.record(req, res)
		return res
	}

	// paper 总在链尾且不会失败, 只有链被清空时才会走到这里
	res := d.paper.Fill(req)
	d.record(req, res)
	return res
}

// Modes 返回执行链的顺序
func (d *Dispatcher) Modes() []model.ExecutionMode {
	modes := make([]model.ExecutionMode, len(d.backends))
	for i, b := range d.backends {
		modes[i] = b.Mode()
	}
	return modes
}

// Paper 返回模拟账户, 用于查询模拟成交
func (d *Dispatcher) Paper() *SimulatorExecutor {
	return d.paper
}

func (d *Dispatcher) record(req model.TradeRequest, res model.ExecutionResult) {
	metrics.ExecutionsTotal.WithLabelValues(string(res.Mode), strconv.FormatBool(res.Executed)).Inc()
	d.logger.Info("Trade dispatched",
		zap.String("mode", string(res.Mode)),
		zap.Bool("executed", res.Executed),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("lotSize", req.LotSize))
}
