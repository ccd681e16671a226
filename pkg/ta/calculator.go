package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

// 指标周期
const (
	RSIPeriod     = 14
	SMAFastPeriod = 20
	SMASlowPeriod = 50
	MACDFast      = 12
	MACDSlow      = 26
	MACDSignal    = 9
)

// MACD 的三条序列, Signal 和 Histogram 比 Line 短 MACDSignal-1 个点
type MACD struct {
	Line      []float64 `json:"macd"`
	Signal    []float64 `json:"signal,omitempty"`
	Histogram []float64 `json:"histogram,omitempty"`
}

// IndicatorBundle 存储一次计算出的全部指标序列
// 所有序列都与收盘价右对齐：长度为 L 的序列第 i 个值对应收盘价下标 N-L+i
// nil 表示历史长度不足, 该指标缺失
type IndicatorBundle struct {
	RSI14   []float64 `json:"rsi14,omitempty"`
	SMAFast []float64 `json:"sma20,omitempty"`
	SMASlow []float64 `json:"sma50,omitempty"`
	MACD    *MACD     `json:"macd,omitempty"`
}

// Compute 根据收盘价计算全部指标, 纯函数
// talib 不做边界检查, 历史不足的指标在调用前直接跳过
func Compute(closes []float64) IndicatorBundle {
	n := len(closes)
	var bundle IndicatorBundle

	// --- 相对强弱指数 (RSI 14), 第一个值位于下标 14 ---
	if n > RSIPeriod {
		bundle.RSI14 = fixFlatRSI(closes, trim(talib.Rsi(closes, RSIPeriod), RSIPeriod))
	}

	// --- 均线 (SMA 20 / SMA 50) ---
	if n >= SMAFastPeriod {
		bundle.SMAFast = trim(talib.Sma(closes, SMAFastPeriod), SMAFastPeriod-1)
	}
	if n >= SMASlowPeriod {
		bundle.SMASlow = trim(talib.Sma(closes, SMASlowPeriod), SMASlowPeriod-1)
	}

	bundle.MACD = computeMACD(closes)
	return bundle
}

// fixFlatRSI talib 在平均涨幅和平均跌幅都为 0 时输出 0, 按 RS = ∞ 改为 100
// Wilder 平滑下两者同时为 0 只会出现在价格从未变动过的前缀上
func fixFlatRSI(closes, rsi []float64) []float64 {
	for j := range rsi {
		// rsi[j] 对应收盘价下标 j+RSIPeriod
		i := j + RSIPeriod
		if closes[i] != closes[i-1] {
			return rsi
		}
		if j == 0 && !flat(closes[:i+1]) {
			return rsi
		}
		rsi[j] = 100
	}
	return rsi
}

func flat(closes []float64) bool {
	for _, c := range closes[1:] {
		if c != closes[0] {
			return false
		}
	}
	return true
}

// computeMACD EMA 以首个周期的 SMA 作为种子
// talib.Macd 把预热区填 0 后再求信号线, 这里先裁掉预热区再计算
func computeMACD(closes []float64) *MACD {
	n := len(closes)
	if n < MACDSlow {
		return nil
	}

	fast := talib.Ema(closes, MACDFast)
	slow := talib.Ema(closes, MACDSlow)

	line := make([]float64, 0, n-MACDSlow+1)
	for i := MACDSlow - 1; i < n; i++ {
		line = append(line, fast[i]-slow[i])
	}

	out := &MACD{Line: line}
	if len(line) < MACDSignal {
		return out
	}

	signal := trim(talib.Ema(line, MACDSignal), MACDSignal-1)
	offset := len(line) - len(signal)
	hist := make([]float64, len(signal))
	for i := range signal {
		hist[i] = line[offset+i] - signal[i]
	}
	out.Signal = signal
	out.Histogram = hist
	return out
}

func trim(values []float64, lookback int) []float64 {
	if lookback >= len(values) {
		return nil
	}
	out := make([]float64, len(values)-lookback)
	copy(out, values[lookback:])
	return out
}

// Aligned 按右对齐规则取收盘价下标 idx 对应的指标值, 缺失或越界返回 NaN
func Aligned(fullLen int, seq []float64, idx int) float64 {
	if len(seq) == 0 {
		return math.NaN()
	}
	j := idx - (fullLen - len(seq))
	if j < 0 || j >= len(seq) {
		return math.NaN()
	}
	return seq[j]
}

// Histogram 返回 MACD 柱, 缺失时为 nil
func (b IndicatorBundle) Histogram() []float64 {
	if b.MACD == nil {
		return nil
	}
	return b.MACD.Histogram
}

// Sequences 返回所有存在的指标序列
func (b IndicatorBundle) Sequences() [][]float64 {
	seqs := [][]float64{b.RSI14, b.SMAFast, b.SMASlow}
	if b.MACD != nil {
		seqs = append(seqs, b.MACD.Line, b.MACD.Signal, b.MACD.Histogram)
	}
	present := seqs[:0]
	for _, s := range seqs {
		if len(s) > 0 {
			present = append(present, s)
		}
	}
	return present
}

// Latest 最新一组指标值, nil 表示缺失
type Latest struct {
	RSI      *float64
	SMAFast  *float64
	SMASlow  *float64
	MACDHist *float64
}

// Latest 取每个序列的最后一个值
func (b IndicatorBundle) Latest() Latest {
	return Latest{
		RSI:      last(b.RSI14),
		SMAFast:  last(b.SMAFast),
		SMASlow:  last(b.SMASlow),
		MACDHist: last(b.Histogram()),
	}
}

func last(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	return &v
}
