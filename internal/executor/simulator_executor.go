package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fx-signal-trader/internal/model"
)

const paperMessage = "Paper trade executed (simulation)"

// MaxPaperFills 账本最多保留的成交笔数, 超出后丢弃最早的记录, 净头寸不受影响
const MaxPaperFills = 1000

// PaperFill 一笔模拟成交
type PaperFill struct {
	ID      string             `json:"id"`
	Time    time.Time          `json:"time"`
	Request model.TradeRequest `json:"request"`
}

// PaperDetails 模拟成交的回报
type PaperDetails struct {
	Message string             `json:"message"`
	ID      string             `json:"id"`
	Request model.TradeRequest `json:"request"`
}

// SimulatorExecutor 执行链的最后一环, 只记账不下单, 永远成功
type SimulatorExecutor struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex // 保护账本
	fills    []PaperFill
	exposure map[string]float64 // 每个品种的净手数, 买为正卖为负
}

// NewSimulatorExecutor 构造函数
func NewSimulatorExecutor(now func() time.Time, logger *zap.Logger) *SimulatorExecutor {
	if now == nil {
		now = time.Now
	}
	return &SimulatorExecutor{
		logger:   logger.With(zap.String("executor", "Paper")),
		now:      now,
		exposure: make(map[string]float64),
	}
}

func (e *SimulatorExecutor) Mode() model.ExecutionMode {
	return model.ModePaper
}

// Submit 实现 Backend 接口, 不会返回错误
func (e *SimulatorExecutor) Submit(_ context.Context, req model.TradeRequest) (model.ExecutionResult, error) {
	return e.Fill(req), nil
}

// Fill 记录一笔模拟成交
func (e *SimulatorExecutor) Fill(req model.TradeRequest) model.ExecutionResult {
	fill := PaperFill{ID: uuid.NewString(), Time: e.now(), Request: req}

	e.mu.Lock()
	if len(e.fills) == MaxPaperFills {
		copy(e.fills, e.fills[1:])
		e.fills = e.fills[:MaxPaperFills-1]
	}
	e.fills = append(e.fills, fill)
	if req.Side == model.SideSell {
		e.exposure[req.Symbol] -= req.LotSize
	} else {
		e.exposure[req.Symbol] += req.LotSize
	}
	net := e.exposure[req.Symbol]
	e.mu.Unlock()

	e.logger.Info("Sim ORDER FILLED",
		zap.String("id", fill.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("lotSize", req.LotSize),
		zap.Float64("netLots", net))

	return model.ExecutionResult{
		Executed: true,
		Mode:     model.ModePaper,
		Details:  PaperDetails{Message: paperMessage, ID: fill.ID, Request: req},
	}
}

// Fills 返回记录的副本，防止外部修改
func (e *SimulatorExecutor) Fills() []PaperFill {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fills := make([]PaperFill, len(e.fills))
	copy(fills, e.fills)
	return fills
}

// Exposure 返回某个品种的模拟净手数
func (e *SimulatorExecutor) Exposure(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exposure[symbol]
}
