package classifier

import (
	"context"
	"runtime"
	"slices"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// predictChunk is the number of rows each prediction task handles.
const predictChunk = 4096

// Pipeline standardises features and classifies them with an MLP.
type Pipeline struct {
	log     zerolog.Logger
	scaler  StandardScaler
	mlp     *MLP
	classes []int
}

// NewPipeline returns an untrained pipeline using cfg for the network.
func NewPipeline(log zerolog.Logger, cfg MLPConfig) *Pipeline {
	return &Pipeline{log: log, mlp: NewMLP(log, cfg)}
}

// Classes returns the sorted class labels seen by Fit. Column k of
// PredictProba belongs to Classes()[k].
func (p *Pipeline) Classes() []int {
	return p.classes
}

// MLP exposes the trained network.
func (p *Pipeline) MLP() *MLP {
	return p.mlp
}

// Fit trains on samples x labelled with arbitrary integer classes y.
func (p *Pipeline) Fit(ctx context.Context, x *Matrix, y []int) error {
	if len(y) != x.Rows {
		return errors.Errorf("got %d labels for %d samples", len(y), x.Rows)
	}
	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return errors.Errorf("need samples of at least 2 classes, got %d", len(classes))
	}

	index := make(map[int]int, len(classes))
	for k, c := range classes {
		index[c] = k
	}
	encoded := make([]int, len(y))
	for i, c := range y {
		encoded[i] = index[c]
	}

	if err := p.scaler.Fit(x); err != nil {
		return err
	}
	scaled := p.scaler.Transform(x)

	p.log.Info().Int("samples", x.Rows).Int("features", x.Cols).Int("classes", len(classes)).Msg("training classifier")
	if err := p.mlp.Fit(ctx, scaled, encoded, len(classes)); err != nil {
		return errors.Wrap(err, "failed to train classifier")
	}
	p.classes = classes
	p.log.Info().Int("epochs", p.mlp.NIter).Float64("validation_score", p.mlp.BestValidationScore).Msg("classifier trained")
	return nil
}

// PredictProba returns one row of class probabilities per source row.
// Rows are scored concurrently in chunks.
func (p *Pipeline) PredictProba(ctx context.Context, src Rows) (*Matrix, error) {
	if p.classes == nil {
		return nil, errors.New("classifier has not been trained")
	}
	if src.Dim() != len(p.scaler.Mean) {
		return nil, errors.Errorf("expected %d features, got %d", len(p.scaler.Mean), src.Dim())
	}

	n := src.Len()
	out := NewMatrix(n, len(p.classes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for start := 0; start < n; start += predictChunk {
		end := min(start+predictChunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ws := p.mlp.newWorkspace()
			buf := make([]float64, src.Dim())
			for i := start; i < end; i++ {
				buf = src.Row(i, buf)
				p.scaler.TransformRow(buf)
				p.mlp.probaRow(ws, buf, out.RowView(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "prediction interrupted")
	}
	return out, nil
}

// Predict returns the most probable class label of every source row.
func (p *Pipeline) Predict(ctx context.Context, src Rows) ([]int, error) {
	proba, err := p.PredictProba(ctx, src)
	if err != nil {
		return nil, err
	}
	idx := ArgMax(proba)
	for i, k := range idx {
		idx[i] = p.classes[k]
	}
	return idx, nil
}
