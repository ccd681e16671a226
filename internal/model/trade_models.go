package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"fx-signal-trader/pkg/ta"
)

// Side 定义了信号或订单的方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideFlat Side = "flat"
)

func (s Side) String() string {
	return string(s)
}

// Tradable flat 信号不会下单
func (s Side) Tradable() bool {
	return s == SideBuy || s == SideSell
}

// Strategy 标记信号由哪条分支给出
type Strategy string

const (
	StrategyClassifier Strategy = "classifier"
	StrategyHeuristic  Strategy = "heuristic"
)

// Signal 是信号管线的输出, 生成后不再修改
type Signal struct {
	Symbol       string             `json:"symbol"`
	Timeframe    Timeframe          `json:"timeframe"`
	Side         Side               `json:"side"`
	Confidence   float64            `json:"confidence"`
	Indicators   ta.IndicatorBundle `json:"indicators"`
	LatestCandle *Candle            `json:"latestCandle,omitempty"`
	Strategy     Strategy           `json:"strategy"`
	FeatureRows  int                `json:"featureRows"`
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s %s | %s] conf: %.4f | strategy: %s | rows: %d",
		s.Symbol, s.Timeframe, s.Side, s.Confidence, s.Strategy, s.FeatureRows)
}

// TradeRequest 是执行层的输入
type TradeRequest struct {
	Symbol         string   `json:"symbol" validate:"required"`
	Side           Side     `json:"side" validate:"required,oneof=buy sell"`
	LotSize        float64  `json:"lotSize" validate:"gt=0"`
	StopLossPips   *float64 `json:"stopLossPips,omitempty" validate:"omitempty,gte=0"`
	TakeProfitPips *float64 `json:"takeProfitPips,omitempty" validate:"omitempty,gte=0"`
}

// ExecutionMode 标记最终由哪个后端完成
type ExecutionMode string

const (
	ModePrimary ExecutionMode = "primary"
	ModeWebhook ExecutionMode = "webhook"
	ModePaper   ExecutionMode = "paper"
)

// ExecutionResult 执行链路的最终结果
type ExecutionResult struct {
	Executed bool          `json:"executed"`
	Mode     ExecutionMode `json:"mode"`
	Details  any           `json:"details,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTradeRequest 在 HTTP 边界校验下单请求
func ValidateTradeRequest(req TradeRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid trade request: %w", err)
	}
	return nil
}

// ValidateStruct 复用同一个 validator 实例
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
