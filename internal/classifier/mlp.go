package classifier

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// MLPConfig holds the multi-layer perceptron hyper-parameters.
type MLPConfig struct {
	// Hidden lists the width of each hidden ReLU layer.
	Hidden []int

	// Alpha is the L2 penalty on the weights.
	Alpha float64

	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	// BatchSize is the minibatch size. 0 means min(200, samples).
	BatchSize int

	MaxIter       int
	Tol           float64
	NIterNoChange int

	// EarlyStopping holds out ValidationFraction of the samples (per class)
	// and stops once validation accuracy stalls, keeping the best weights.
	EarlyStopping      bool
	ValidationFraction float64

	Seed uint64
}

// DefaultMLPConfig returns the configuration Doodler trains with.
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		Hidden:             []int{100, 60},
		Alpha:              1,
		LearningRate:       1e-3,
		Beta1:              0.9,
		Beta2:              0.999,
		Epsilon:            1e-8,
		MaxIter:            2000,
		Tol:                1e-4,
		NIterNoChange:      10,
		EarlyStopping:      true,
		ValidationFraction: 0.1,
		Seed:               1,
	}
}

// probClip bounds probabilities away from zero inside the log loss.
const probClip = 2.220446049250313e-16

type layer struct {
	in, out int
	w       []float64 // w[i*out+j] connects input i to output j
	b       []float64
}

// workspace holds per-goroutine activations and deltas.
type workspace struct {
	acts   [][]float64
	deltas [][]float64
}

// MLP is a feed-forward classifier with ReLU hidden layers and a softmax
// output trained by Adam on cross-entropy.
type MLP struct {
	cfg    MLPConfig
	log    zerolog.Logger
	layers []layer

	// NIter is the number of epochs run by the last Fit.
	NIter int
	// LossCurve is the training loss after each epoch.
	LossCurve []float64
	// BestValidationScore is the best held-out accuracy seen with early stopping.
	BestValidationScore float64
}

// NewMLP returns an untrained network.
func NewMLP(log zerolog.Logger, cfg MLPConfig) *MLP {
	return &MLP{cfg: cfg, log: log}
}

// NumOutputs is the number of classes of the trained network, 0 before Fit.
func (m *MLP) NumOutputs() int {
	if len(m.layers) == 0 {
		return 0
	}
	return m.layers[len(m.layers)-1].out
}

func (m *MLP) newWorkspace() *workspace {
	ws := &workspace{
		acts:   make([][]float64, len(m.layers)+1),
		deltas: make([][]float64, len(m.layers)),
	}
	for l, L := range m.layers {
		ws.acts[l+1] = make([]float64, L.out)
		ws.deltas[l] = make([]float64, L.out)
	}
	return ws
}

// forward runs one sample through the network and returns the output
// probabilities, which alias the workspace.
func (m *MLP) forward(ws *workspace, in []float64) []float64 {
	ws.acts[0] = in
	last := len(m.layers) - 1
	for l, L := range m.layers {
		out := ws.acts[l+1]
		copy(out, L.b)
		for i, a := range ws.acts[l] {
			if a == 0 {
				continue
			}
			wrow := L.w[i*L.out : (i+1)*L.out]
			for j := range out {
				out[j] += a * wrow[j]
			}
		}
		if l < last {
			for j, v := range out {
				if v < 0 {
					out[j] = 0
				}
			}
		} else {
			softmax(out)
		}
	}
	return ws.acts[len(m.layers)]
}

func softmax(v []float64) {
	mx := v[0]
	for _, x := range v[1:] {
		mx = math.Max(mx, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - mx)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func (m *MLP) init(rng *rand.Rand, nIn, nOut int) {
	sizes := append([]int{nIn}, m.cfg.Hidden...)
	sizes = append(sizes, nOut)
	m.layers = make([]layer, len(sizes)-1)
	for l := range m.layers {
		in, out := sizes[l], sizes[l+1]
		bound := math.Sqrt(6.0 / float64(in+out))
		L := layer{in: in, out: out, w: make([]float64, in*out), b: make([]float64, out)}
		for i := range L.w {
			L.w[i] = (2*rng.Float64() - 1) * bound
		}
		for i := range L.b {
			L.b[i] = (2*rng.Float64() - 1) * bound
		}
		m.layers[l] = L
	}
}

// adam keeps first and second moment estimates for every parameter.
type adam struct {
	cfg MLPConfig
	t   int
	mw  [][]float64
	vw  [][]float64
	mb  [][]float64
	vb  [][]float64
}

func newAdam(cfg MLPConfig, layers []layer) *adam {
	a := &adam{cfg: cfg}
	for _, L := range layers {
		a.mw = append(a.mw, make([]float64, len(L.w)))
		a.vw = append(a.vw, make([]float64, len(L.w)))
		a.mb = append(a.mb, make([]float64, len(L.b)))
		a.vb = append(a.vb, make([]float64, len(L.b)))
	}
	return a
}

func (a *adam) step(layers []layer, gw, gb [][]float64) {
	a.t++
	c := a.cfg
	lr := c.LearningRate * math.Sqrt(1-math.Pow(c.Beta2, float64(a.t))) / (1 - math.Pow(c.Beta1, float64(a.t)))
	update := func(p, g, mom, vel []float64) {
		for i := range p {
			mom[i] = c.Beta1*mom[i] + (1-c.Beta1)*g[i]
			vel[i] = c.Beta2*vel[i] + (1-c.Beta2)*g[i]*g[i]
			p[i] -= lr * mom[i] / (math.Sqrt(vel[i]) + c.Epsilon)
		}
	}
	for l := range layers {
		update(layers[l].w, gw[l], a.mw[l], a.vw[l])
		update(layers[l].b, gb[l], a.mb[l], a.vb[l])
	}
}

// Fit trains the network on x with class indices y in [0, nClasses).
func (m *MLP) Fit(ctx context.Context, x *Matrix, y []int, nClasses int) error {
	if x.Rows == 0 {
		return errors.New("cannot fit on zero samples")
	}
	if len(y) != x.Rows {
		return errors.Errorf("got %d labels for %d samples", len(y), x.Rows)
	}
	if nClasses < 2 {
		return errors.Errorf("need at least 2 classes, got %d", nClasses)
	}
	for i, c := range y {
		if c < 0 || c >= nClasses {
			return errors.Errorf("label %d of sample %d outside [0,%d)", c, i, nClasses)
		}
	}

	rng := rand.New(rand.NewPCG(m.cfg.Seed, m.cfg.Seed^0x9e3779b97f4a7c15))
	m.init(rng, x.Cols, nClasses)
	m.NIter = 0
	m.LossCurve = nil
	m.BestValidationScore = math.Inf(-1)

	train, val := allIndices(x.Rows), []int(nil)
	if m.cfg.EarlyStopping {
		train, val = stratifiedSplit(rng, y, nClasses, m.cfg.ValidationFraction)
		if len(val) == 0 {
			m.log.Debug().Msg("too few samples for a validation split, stopping on training loss")
		}
	}
	earlyStopping := m.cfg.EarlyStopping && len(val) > 0

	batchSize := m.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = min(200, len(train))
	}

	opt := newAdam(m.cfg, m.layers)
	ws := m.newWorkspace()
	gw := make([][]float64, len(m.layers))
	gb := make([][]float64, len(m.layers))
	for l, L := range m.layers {
		gw[l] = make([]float64, len(L.w))
		gb[l] = make([]float64, len(L.b))
	}

	var bestW, bestB [][]float64
	bestLoss := math.Inf(1)
	noImprovement := 0

	for it := 0; it < m.cfg.MaxIter; it++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "training interrupted")
		}
		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })

		var accumulated float64
		for start := 0; start < len(train); start += batchSize {
			batch := train[start:min(start+batchSize, len(train))]
			loss := m.backprop(ws, x, y, batch, gw, gb)
			opt.step(m.layers, gw, gb)
			accumulated += loss * float64(len(batch))
		}
		m.NIter++
		loss := accumulated / float64(len(train))
		m.LossCurve = append(m.LossCurve, loss)

		if earlyStopping {
			score := m.accuracy(ws, x, y, val)
			if score < m.BestValidationScore+m.cfg.Tol {
				noImprovement++
			} else {
				noImprovement = 0
			}
			if score > m.BestValidationScore {
				m.BestValidationScore = score
				bestW, bestB = m.snapshot()
			}
		} else {
			if loss > bestLoss-m.cfg.Tol {
				noImprovement++
			} else {
				noImprovement = 0
			}
			bestLoss = math.Min(bestLoss, loss)
		}

		if noImprovement > m.cfg.NIterNoChange {
			m.log.Debug().Int("epoch", m.NIter).Float64("loss", loss).Msg("training converged")
			break
		}
	}
	if m.NIter == m.cfg.MaxIter {
		m.log.Warn().Int("max_iter", m.cfg.MaxIter).Msg("maximum iterations reached before convergence")
	}

	if earlyStopping && bestW != nil {
		for l := range m.layers {
			m.layers[l].w = bestW[l]
			m.layers[l].b = bestB[l]
		}
	}
	return nil
}

// backprop fills gw and gb with the mean gradient of the penalised loss over
// batch and returns that loss.
func (m *MLP) backprop(ws *workspace, x *Matrix, y []int, batch []int, gw, gb [][]float64) float64 {
	for l := range m.layers {
		clear(gw[l])
		clear(gb[l])
	}

	last := len(m.layers) - 1
	var loss float64
	for _, s := range batch {
		p := m.forward(ws, x.RowView(s))
		loss -= math.Log(math.Max(p[y[s]], probClip))

		out := ws.deltas[last]
		copy(out, p)
		out[y[s]] -= 1

		for l := last; l >= 0; l-- {
			L := m.layers[l]
			delta := ws.deltas[l]
			in := ws.acts[l]
			for j, d := range delta {
				gb[l][j] += d
			}
			for i, a := range in {
				if a == 0 {
					continue
				}
				g := gw[l][i*L.out : (i+1)*L.out]
				for j, d := range delta {
					g[j] += a * d
				}
			}
			if l == 0 {
				break
			}
			prev := ws.deltas[l-1]
			for i := range prev {
				if in[i] <= 0 {
					prev[i] = 0
					continue
				}
				wrow := L.w[i*L.out : (i+1)*L.out]
				var sum float64
				for j, d := range delta {
					sum += wrow[j] * d
				}
				prev[i] = sum
			}
		}
	}

	n := float64(len(batch))
	var sq float64
	for l, L := range m.layers {
		for i, w := range L.w {
			sq += w * w
			gw[l][i] = (gw[l][i] + m.cfg.Alpha*w) / n
		}
		for j := range gb[l] {
			gb[l][j] /= n
		}
	}
	return loss/n + 0.5*m.cfg.Alpha*sq/n
}

func (m *MLP) accuracy(ws *workspace, x *Matrix, y []int, idx []int) float64 {
	correct := 0
	for _, i := range idx {
		p := m.forward(ws, x.RowView(i))
		best := 0
		for j := 1; j < len(p); j++ {
			if p[j] > p[best] {
				best = j
			}
		}
		if best == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}

func (m *MLP) snapshot() (ws, bs [][]float64) {
	for _, L := range m.layers {
		ws = append(ws, append([]float64(nil), L.w...))
		bs = append(bs, append([]float64(nil), L.b...))
	}
	return ws, bs
}

// probaRow writes the class probabilities of one sample into out.
// ws must come from newWorkspace and not be shared between goroutines.
func (m *MLP) probaRow(ws *workspace, in, out []float64) {
	copy(out, m.forward(ws, in))
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// stratifiedSplit holds out about frac of each class for validation. A class
// always keeps at least one training sample.
func stratifiedSplit(rng *rand.Rand, y []int, nClasses int, frac float64) (train, val []int) {
	byClass := make([][]int, nClasses)
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	for _, members := range byClass {
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nVal := int(math.Round(frac * float64(len(members))))
		if nVal == 0 && len(members) >= 2 && frac > 0 {
			nVal = 1
		}
		nVal = min(nVal, len(members)-1)
		if nVal < 0 {
			nVal = 0
		}
		val = append(val, members[:nVal]...)
		train = append(train, members[nVal:]...)
	}
	return train, val
}
