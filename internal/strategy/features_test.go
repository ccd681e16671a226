package strategy

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-signal-trader/internal/model"
	"fx-signal-trader/pkg/ta"
)

func waveCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.1 + 0.01*math.Sin(float64(i)/3) + 0.0001*float64(i)
	}
	return out
}

func seriesFrom(closes []float64) model.CandleSeries {
	series := make(model.CandleSeries, len(closes))
	for i, c := range closes {
		series[i] = model.Candle{
			Time:  int64(i) * 300_000,
			Open:  c,
			High:  c + 0.0002,
			Low:   c - 0.0002,
			Close: c,
		}
	}
	return series
}

func buildFor(closes []float64) FeatureSet {
	series := seriesFrom(closes)
	return BuildFeatures(series, ta.Compute(closes))
}

func TestBuildFeaturesRowCount(t *testing.T) {
	tests := []struct {
		n    int
		rows int
	}{
		{n: 0, rows: 0},
		{n: 1, rows: 0},
		{n: 33, rows: 0},
		{n: 50, rows: 0},
		{n: 51, rows: 1},
		{n: 70, rows: 20},
		{n: 71, rows: 21},
		{n: 120, rows: 70},
	}
	for _, tt := range tests {
		fs := buildFor(waveCloses(tt.n))
		assert.Equal(t, tt.rows, fs.Len(), "n=%d", tt.n)
		assert.Len(t, fs.Labels, tt.rows)
		assert.Len(t, fs.Indices, tt.rows)
	}
}

func TestBuildFeaturesLabelsAndValues(t *testing.T) {
	closes := waveCloses(90)
	bundle := ta.Compute(closes)
	fs := BuildFeatures(seriesFrom(closes), bundle)
	require.NotZero(t, fs.Len())

	for k, i := range fs.Indices {
		// 最后一根 K 线没有下一根收盘价, 不能产生特征行
		require.Less(t, i, len(closes)-1)

		want := 0.0
		if closes[i+1] > closes[i] {
			want = 1
		}
		assert.Equal(t, want, fs.Labels[k], "label at %d", i)

		row := fs.Rows[k]
		assert.Equal(t, ta.Aligned(len(closes), bundle.RSI14, i), row.RSI)
		assert.InDelta(t, ta.Aligned(len(closes), bundle.SMAFast, i)-ta.Aligned(len(closes), bundle.SMASlow, i), row.SMADiff, 1e-15)
		assert.Equal(t, ta.Aligned(len(closes), bundle.Histogram(), i), row.MACDHist)
		assert.InDelta(t, (closes[i]-closes[i-1])/closes[i-1], row.Return, 1e-15)
	}
}

func TestBuildFeaturesFlatCloseLabelsZero(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 1.25
	}
	fs := buildFor(closes)
	require.Equal(t, 10, fs.Len())
	for _, l := range fs.Labels {
		assert.Equal(t, 0.0, l)
	}
}

func TestBuildFeaturesSkipsNonFinite(t *testing.T) {
	closes := waveCloses(80)
	series := seriesFrom(closes)
	bundle := ta.Compute(closes)

	// 收盘价下标 60 的 RSI 和下标 65 的 MACD 柱置为 NaN
	bundle.RSI14[60-(len(closes)-len(bundle.RSI14))] = math.NaN()
	bundle.MACD.Histogram[65-(len(closes)-len(bundle.MACD.Histogram))] = math.Inf(1)

	fs := BuildFeatures(series, bundle)
	assert.Equal(t, 28, fs.Len())
	assert.False(t, slices.Contains(fs.Indices, 60))
	assert.False(t, slices.Contains(fs.Indices, 65))
	assert.True(t, slices.Contains(fs.Indices, 59))
	assert.True(t, slices.Contains(fs.Indices, 61))
	for _, row := range fs.Rows {
		for _, v := range row.Vector() {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestBuildFeaturesSkipsZeroPreviousClose(t *testing.T) {
	closes := waveCloses(80)
	closes[59] = 0
	fs := buildFor(closes)
	assert.False(t, slices.Contains(fs.Indices, 60))
	for _, row := range fs.Rows {
		assert.False(t, math.IsInf(row.Return, 0))
	}
}
