package strategy

import (
	"math"

	"fx-signal-trader/internal/model"
	"fx-signal-trader/pkg/ta"
)

// FeatureRow 分类器的输入向量
type FeatureRow struct {
	RSI      float64
	SMADiff  float64 // SMA20 - SMA50
	MACDHist float64
	Return   float64 // 单根 K 线收益率
}

// Vector 按固定顺序展开: rsi, smaDiff, macdHist, return
func (r FeatureRow) Vector() []float64 {
	return []float64{r.RSI, r.SMADiff, r.MACDHist, r.Return}
}

// FeatureSet 特征行、标签以及每行对应的收盘价下标
type FeatureSet struct {
	Rows    []FeatureRow
	Labels  []float64
	Indices []int
}

func (fs FeatureSet) Len() int {
	return len(fs.Rows)
}

// BuildFeatures 对齐指标序列, 为每个可用的时间点生成特征行和标签
// 标签为 1 当且仅当下一根收盘价严格高于当前收盘价, 因此最后一根 K 线没有特征行
func BuildFeatures(series model.CandleSeries, bundle ta.IndicatorBundle) FeatureSet {
	n := len(series)
	var fs FeatureSet

	maxLookback := 0
	for _, seq := range bundle.Sequences() {
		if len(seq) > maxLookback {
			maxLookback = len(seq)
		}
	}
	offset := n - maxLookback

	hist := bundle.Histogram()
	for i := offset; i < n-1; i++ {
		rsi := ta.Aligned(n, bundle.RSI14, i)
		smaFast := ta.Aligned(n, bundle.SMAFast, i)
		smaSlow := ta.Aligned(n, bundle.SMASlow, i)
		macdHist := ta.Aligned(n, hist, i)
		if !allFinite(rsi, smaFast, smaSlow, macdHist) {
			continue
		}

		ret := 0.0
		if i > 0 {
			prev := series[i-1].Close
			ret = (series[i].Close - prev) / prev
		}
		row := FeatureRow{
			RSI:      rsi,
			SMADiff:  smaFast - smaSlow,
			MACDHist: macdHist,
			Return:   ret,
		}
		// 前一根收盘价为 0 时收益率无意义
		if !allFinite(row.SMADiff, row.Return) {
			continue
		}

		label := 0.0
		if series[i+1].Close > series[i].Close {
			label = 1
		}
		fs.Rows = append(fs.Rows, row)
		fs.Labels = append(fs.Labels, label)
		fs.Indices = append(fs.Indices, i)
	}
	return fs
}

func allFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
