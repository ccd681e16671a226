package marketdata

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"fx-signal-trader/internal/model"
)

// 随机游走参数
const (
	simBasePrice = 1.1
	simMaxDrift  = 0.0006
	simMaxWick   = 0.0002
	simMinPrice  = 0.2

	compactPoints = 120
	fullPoints    = 1000
)

// Simulator 生成随机游走 K 线, 用于没有行情源时演示
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewSimulator(rng *rand.Rand, now func() time.Time) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Simulator{rng: rng, now: now}
}

// Generate 最后一根 K 线的时间为当前时间, 向前按周期排列
func (s *Simulator) Generate(tf model.Timeframe, size OutputSize) model.CandleSeries {
	points := compactPoints
	if size == OutputFull {
		points = fullPoints
	}
	step := tf.Duration()
	if step == 0 {
		step = model.Timeframe5m.Duration()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	price := simBasePrice
	series := make(model.CandleSeries, 0, points)
	for i := points - 1; i >= 0; i-- {
		drift := (s.rng.Float64() - 0.5) * simMaxDrift
		open := price
		price = math.Max(simMinPrice, price+drift)
		series = append(series, model.Candle{
			Time:  now - int64(i)*step.Milliseconds(),
			Open:  open,
			High:  math.Max(open, price) + s.rng.Float64()*simMaxWick,
			Low:   math.Min(open, price) - s.rng.Float64()*simMaxWick,
			Close: price,
		})
	}
	return series
}
