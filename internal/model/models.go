package model

import "time"

// Candle 代表一根 OHLC K 线, Time 为毫秒时间戳
type Candle struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// CandleSeries 按时间升序排列的 K 线序列 (调用方保证顺序)
type CandleSeries []Candle

// Closes 返回收盘价序列
func (s CandleSeries) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Last 返回最新一根 K 线, 空序列返回 nil
func (s CandleSeries) Last() *Candle {
	if len(s) == 0 {
		return nil
	}
	last := s[len(s)-1]
	return &last
}

// Tail 返回最后 n 根 K 线
func (s CandleSeries) Tail(n int) CandleSeries {
	if n <= 0 {
		return CandleSeries{}
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Timeframe K 线周期
type Timeframe string

const (
	Timeframe1m  Timeframe = "1min"
	Timeframe5m  Timeframe = "5min"
	Timeframe15m Timeframe = "15min"
	Timeframe30m Timeframe = "30min"
	Timeframe60m Timeframe = "60min"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe60m: time.Hour,
}

// Duration 返回周期长度, 未知周期返回 0
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string {
	return string(tf)
}

// TimeframeFromDuration 将时长映射为支持的周期
func TimeframeFromDuration(d time.Duration) (Timeframe, bool) {
	for tf, td := range timeframeDurations {
		if td == d {
			return tf, true
		}
	}
	return "", false
}
