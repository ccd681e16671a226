package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrEmptyTrainingSet = errors.New("empty training set")

// TrainConfig 分类器训练参数
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
	Rand         *rand.Rand
}

// DefaultTrainConfig 20 轮, 批大小 16, Adam 学习率 0.01, dropout 0.2
func DefaultTrainConfig(rng *rand.Rand) TrainConfig {
	return TrainConfig{
		Epochs:       20,
		BatchSize:    16,
		LearningRate: 0.01,
		Dropout:      0.2,
		Rand:         rng,
	}
}

// 网络结构: 4 -> 16 relu -> dropout -> 8 relu -> 1 sigmoid
var layerSizes = []int{4, 16, 8, 1}

// dense 全连接层, w 的形状为 (out, in)
type dense struct {
	w *mat.Dense
	b []float64

	// Adam 状态
	mw, vw []float64
	mb, vb []float64
}

func newDense(in, out int, rng *rand.Rand) *dense {
	// Glorot uniform
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &dense{
		w:  mat.NewDense(out, in, data),
		b:  make([]float64, out),
		mw: make([]float64, in*out),
		vw: make([]float64, in*out),
		mb: make([]float64, out),
		vb: make([]float64, out),
	}
}

// forward 计算 x·wᵀ + b, x 的形状为 (batch, in)
func (l *dense) forward(x mat.Matrix) *mat.Dense {
	rows, _ := x.Dims()
	out, _ := l.w.Dims()
	z := mat.NewDense(rows, out, nil)
	z.Mul(x, l.w.T())
	z.Apply(func(_, j int, v float64) float64 { return v + l.b[j] }, z)
	return z
}

// Model 训练后的分类器, 包含输入标准化参数
type Model struct {
	layers []*dense
	mean   []float64
	std    []float64
}

// Predict 返回上涨概率, 推理时不使用 dropout
func (m *Model) Predict(row FeatureRow) float64 {
	x := mat.NewDense(1, len(m.mean), m.scale(row.Vector()))
	p := m.forward(x, nil).out.At(0, 0)
	return math.Max(0, math.Min(1, p))
}

func (m *Model) scale(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = (v[i] - m.mean[i]) / m.std[i]
	}
	return out
}

// pass 保存一次前向传播的中间结果, 反向传播时使用
type pass struct {
	x      *mat.Dense
	z1, a1 *mat.Dense
	mask   *mat.Dense
	z2, a2 *mat.Dense
	out    *mat.Dense
}

// forward mask 为 nil 时不做 dropout
func (m *Model) forward(x *mat.Dense, mask *mat.Dense) pass {
	p := pass{x: x, mask: mask}

	p.z1 = m.layers[0].forward(x)
	p.a1 = relu(p.z1)
	if mask != nil {
		p.a1.MulElem(p.a1, mask)
	}

	p.z2 = m.layers[1].forward(p.a1)
	p.a2 = relu(p.z2)

	p.out = m.layers[2].forward(p.a2)
	p.out.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, p.out)
	return p
}

// grads 单层梯度
type grads struct {
	w *mat.Dense
	b []float64
}

// backward 二元交叉熵 + sigmoid 的梯度为 (p - y) / batch
func (m *Model) backward(p pass, y []float64) []grads {
	batch, _ := p.out.Dims()

	dz3 := mat.NewDense(batch, 1, nil)
	for i := 0; i < batch; i++ {
		dz3.Set(i, 0, (p.out.At(i, 0)-y[i])/float64(batch))
	}
	g3 := layerGrads(dz3, p.a2)

	da2 := mat.NewDense(batch, layerSizes[2], nil)
	da2.Mul(dz3, m.layers[2].w)
	dz2 := reluGrad(da2, p.z2)
	g2 := layerGrads(dz2, p.a1)

	da1 := mat.NewDense(batch, layerSizes[1], nil)
	da1.Mul(dz2, m.layers[1].w)
	if p.mask != nil {
		da1.MulElem(da1, p.mask)
	}
	dz1 := reluGrad(da1, p.z1)
	g1 := layerGrads(dz1, p.x)

	return []grads{g1, g2, g3}
}

func layerGrads(dz, input *mat.Dense) grads {
	_, out := dz.Dims()
	_, in := input.Dims()
	gw := mat.NewDense(out, in, nil)
	gw.Mul(dz.T(), input)

	rows, _ := dz.Dims()
	gb := make([]float64, out)
	for j := 0; j < out; j++ {
		for i := 0; i < rows; i++ {
			gb[j] += dz.At(i, j)
		}
	}
	return grads{w: gw, b: gb}
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

func (l *dense) adam(g grads, lr float64, step int) {
	c1 := 1 - math.Pow(adamBeta1, float64(step))
	c2 := 1 - math.Pow(adamBeta2, float64(step))
	update := func(param, grad, m, v []float64) {
		for i := range param {
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*grad[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*grad[i]*grad[i]
			param[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEpsilon)
		}
	}
	update(l.w.RawMatrix().Data, g.w.RawMatrix().Data, l.mw, l.vw)
	update(l.b, g.b, l.mb, l.vb)
}

// Fit 从零训练一个分类器: (特征, 标签) -> 模型
// 每个批次之间检查 ctx, 超时后返回 ctx 的错误
func Fit(ctx context.Context, rows []FeatureRow, labels []float64, cfg TrainConfig) (*Model, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("rows/labels length mismatch: %d != %d", len(rows), len(labels))
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	m := &Model{}
	for i := 0; i+1 < len(layerSizes); i++ {
		m.layers = append(m.layers, newDense(layerSizes[i], layerSizes[i+1], rng))
	}
	m.mean, m.std = standardize(rows)

	inputs := make([][]float64, len(rows))
	for i, r := range rows {
		inputs[i] = m.scale(r.Vector())
	}

	step := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := rng.Perm(len(rows))
		for start := 0; start < len(perm); start += batchSize {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("training stopped at epoch %d: %w", epoch, err)
			}
			end := min(start+batchSize, len(perm))
			idx := perm[start:end]

			x := mat.NewDense(len(idx), layerSizes[0], nil)
			y := make([]float64, len(idx))
			for r, k := range idx {
				x.SetRow(r, inputs[k])
				y[r] = labels[k]
			}

			p := m.forward(x, dropoutMask(len(idx), layerSizes[1], cfg.Dropout, rng))
			step++
			for i, g := range m.backward(p, y) {
				m.layers[i].adam(g, cfg.LearningRate, step)
			}
		}
	}
	return m, nil
}

// Loss 平均二元交叉熵, 用于观察训练效果
func (m *Model) Loss(rows []FeatureRow, labels []float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	const eps = 1e-7
	total := 0.0
	for i, r := range rows {
		p := math.Max(eps, math.Min(1-eps, m.Predict(r)))
		total -= labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p)
	}
	return total / float64(len(rows))
}

// standardize 计算每列均值和标准差, 常数列的标准差取 1
func standardize(rows []FeatureRow) ([]float64, []float64) {
	width := layerSizes[0]
	mean := make([]float64, width)
	std := make([]float64, width)
	for _, r := range rows {
		for j, v := range r.Vector() {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(rows))
	}
	for _, r := range rows {
		for j, v := range r.Vector() {
			std[j] += (v - mean[j]) * (v - mean[j])
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(rows)))
		if std[j] < 1e-12 {
			std[j] = 1
		}
	}
	return mean, std
}

// dropoutMask inverted dropout: 保留的单元放大 1/(1-rate)
func dropoutMask(rows, cols int, rate float64, rng *rand.Rand) *mat.Dense {
	if rate <= 0 {
		return nil
	}
	keep := 1 - rate
	data := make([]float64, rows*cols)
	for i := range data {
		if rng.Float64() < keep {
			data[i] = 1 / keep
		}
	}
	return mat.NewDense(rows, cols, data)
}

func relu(z *mat.Dense) *mat.Dense {
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
	return out
}

func reluGrad(upstream, z *mat.Dense) *mat.Dense {
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if z.At(i, j) > 0 {
			return v
		}
		return 0
	}, upstream)
	return out
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
