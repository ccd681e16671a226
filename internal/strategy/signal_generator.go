package strategy

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"fx-signal-trader/internal/metrics"
	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
	"fx-signal-trader/pkg/ta"
)

// SignalGenerator 负责根据 K 线序列生成交易信号
// 每次调用都从零训练模型, 调用之间不共享状态 (除了随机种子源)
type SignalGenerator struct {
	cfg    *service.ModelConfig
	logger *zap.SugaredLogger

	mu   sync.Mutex
	seed *rand.Rand
}

// NewSignalGenerator 初始化信号生成器
func NewSignalGenerator(cfg *service.ModelConfig, logger *zap.SugaredLogger) *SignalGenerator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SignalGenerator{
		cfg:    cfg,
		logger: logger,
		seed:   rand.New(rand.NewSource(seed)),
	}
}

// GenerateSignal 信号管线入口: 指标 -> 特征 -> 打分
// 对结构合法的输入不会返回错误, 训练失败时退回启发式打分
func (sg *SignalGenerator) GenerateSignal(
	ctx context.Context,
	symbol string,
	timeframe model.Timeframe,
	series model.CandleSeries,
) model.Signal {
	bundle := ta.Compute(series.Closes())
	features := BuildFeatures(series, bundle)

	signal := model.Signal{
		Symbol:       symbol,
		Timeframe:    timeframe,
		Indicators:   bundle,
		LatestCandle: series.Last(),
		FeatureRows:  features.Len(),
	}

	if features.Len() > MinTrainingRows {
		p, err := sg.classify(ctx, features)
		if err == nil {
			signal.Strategy = model.StrategyClassifier
			signal.Side = SideFromProbability(p)
			signal.Confidence = p
			sg.record(signal)
			return signal
		}
		sg.logger.Warnw("Classifier training failed, using heuristic score",
			"symbol", symbol, "rows", features.Len(), "error", err)
	}

	score := HeuristicScore(bundle.Latest())
	signal.Strategy = model.StrategyHeuristic
	signal.Side = SideFromScore(score)
	signal.Confidence = math.Min(1, math.Abs(score))
	sg.record(signal)
	return signal
}

// classify 训练并对最近一行特征打分, 模型用完即弃
func (sg *SignalGenerator) classify(ctx context.Context, features FeatureSet) (float64, error) {
	if sg.cfg.TrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sg.cfg.TrainTimeout)
		defer cancel()
	}

	start := time.Now()
	m, err := Fit(ctx, features.Rows, features.Labels, sg.trainConfig())
	metrics.ObserveTraining(time.Since(start))
	if err != nil {
		return 0, err
	}

	p := m.Predict(features.Rows[features.Len()-1])
	sg.logger.Debugw("Classifier scored latest row",
		"rows", features.Len(), "probability", p, "loss", m.Loss(features.Rows, features.Labels))
	return p, nil
}

// trainConfig 每次训练取一个独立的随机源
func (sg *SignalGenerator) trainConfig() TrainConfig {
	sg.mu.Lock()
	rng := rand.New(rand.NewSource(sg.seed.Int63()))
	sg.mu.Unlock()

	cfg := DefaultTrainConfig(rng)
	if sg.cfg.Epochs > 0 {
		cfg.Epochs = sg.cfg.Epochs
	}
	if sg.cfg.BatchSize > 0 {
		cfg.BatchSize = sg.cfg.BatchSize
	}
	if sg.cfg.LearningRate > 0 {
		cfg.LearningRate = sg.cfg.LearningRate
	}
	// 0 为未设置, 保留默认的 0.2
	if sg.cfg.Dropout > 0 && sg.cfg.Dropout < 1 {
		cfg.Dropout = sg.cfg.Dropout
	}
	return cfg
}

func (sg *SignalGenerator) record(signal model.Signal) {
	metrics.SignalsTotal.WithLabelValues(signal.Symbol, string(signal.Side), string(signal.Strategy)).Inc()
	sg.logger.Infow("Signal generated",
		"symbol", signal.Symbol,
		"timeframe", signal.Timeframe,
		"side", signal.Side,
		"confidence", signal.Confidence,
		"strategy", signal.Strategy)
}

// HeuristicScore 样本不足时的打分规则
// 均线差和 MACD 柱为 0 时按 -0.2 计, RSI 缺失按 50 计, 其他缺失项贡献 0
func HeuristicScore(latest ta.Latest) float64 {
	score := 0.0

	if latest.SMAFast != nil && latest.SMASlow != nil {
		score += signTerm(*latest.SMAFast - *latest.SMASlow)
	}
	if latest.MACDHist != nil {
		score += signTerm(*latest.MACDHist)
	}

	rsi := 50.0
	if latest.RSI != nil {
		rsi = *latest.RSI
	}
	score += (rsi - 50) / 50 * HeuristicWeight
	return score
}

func signTerm(v float64) float64 {
	if v > 0 {
		return HeuristicWeight
	}
	return -HeuristicWeight
}

// SideFromProbability 分类器输出的判定
func SideFromProbability(p float64) model.Side {
	switch {
	case p > ClassifierBuyThreshold:
		return model.SideBuy
	case p < ClassifierSellThreshold:
		return model.SideSell
	default:
		return model.SideFlat
	}
}

// SideFromScore 启发式得分的判定
func SideFromScore(score float64) model.Side {
	switch {
	case score > HeuristicThreshold:
		return model.SideBuy
	case score < -HeuristicThreshold:
		return model.SideSell
	default:
		return model.SideFlat
	}
}
