package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
)

// blobs returns n samples per class drawn around well separated centres.
func blobs(n int, labels []int) (*Matrix, []int) {
	rng := rand.New(rand.NewPCG(7, 11))
	x := NewMatrix(n*len(labels), 3)
	y := make([]int, 0, n*len(labels))
	row := 0
	for k, label := range labels {
		centre := float64(4 * k)
		for i := 0; i < n; i++ {
			x.Set(row, 0, centre+rng.NormFloat64()*0.5)
			x.Set(row, 1, -centre+rng.NormFloat64()*0.5)
			x.Set(row, 2, rng.NormFloat64())
			y = append(y, label)
			row++
		}
	}
	return x, y
}

func testConfig() MLPConfig {
	cfg := DefaultMLPConfig()
	cfg.MaxIter = 100
	cfg.LearningRate = 1e-2
	cfg.Hidden = []int{16, 8}
	return cfg
}

func TestStandardScaler(t *testing.T) {
	x := &Matrix{Rows: 4, Cols: 2, Data: []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	}}
	var s StandardScaler
	if err := s.Fit(x); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff([]float64{2.5, 5}, s.Mean, opt); diff != "" {
		t.Errorf("mean mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{math.Sqrt(1.25), 1}, s.Scale, opt); diff != "" {
		t.Errorf("scale mismatch (-want +got):\n%s", diff)
	}

	out := s.Transform(x)
	if x.At(0, 0) != 1 {
		t.Error("Transform modified its input")
	}
	if out.At(1, 1) != 0 {
		t.Errorf("constant feature: got %v, want 0", out.At(1, 1))
	}
	var sum float64
	for i := 0; i < out.Rows; i++ {
		sum += out.At(i, 0)
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("scaled feature not centred, sum %v", sum)
	}

	if err := s.Fit(NewMatrix(0, 2)); err == nil {
		t.Error("expected error fitting zero samples")
	}
}

func TestArgMax(t *testing.T) {
	m := &Matrix{Rows: 3, Cols: 3, Data: []float64{
		0.1, 0.7, 0.2,
		0.5, 0.2, 0.3,
		0.3, 0.3, 0.4,
	}}
	if diff := cmp.Diff([]int{1, 0, 2}, ArgMax(m)); diff != "" {
		t.Errorf("argmax mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect(t *testing.T) {
	m := &Matrix{Rows: 3, Cols: 2, Data: []float64{1, 2, 3, 4, 5, 6}}
	got := Collect(m, []int{2, 0})
	if diff := cmp.Diff([]float64{5, 6, 1, 2}, got.Data); diff != "" {
		t.Errorf("collected rows mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_FitSeparable(t *testing.T) {
	x, y := blobs(150, []int{3, 7})
	p := NewPipeline(zerolog.Nop(), testConfig())
	if err := p.Fit(context.Background(), x, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if diff := cmp.Diff([]int{3, 7}, p.Classes()); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}

	pred, err := p.Predict(context.Background(), x)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	correct := 0
	for i := range pred {
		if pred[i] == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(y)); acc < 0.95 {
		t.Errorf("training accuracy %.3f, want >= 0.95", acc)
	}
	if p.MLP().NIter == 0 || len(p.MLP().LossCurve) != p.MLP().NIter {
		t.Errorf("loss curve has %d entries for %d epochs", len(p.MLP().LossCurve), p.MLP().NIter)
	}
}

func TestPipeline_PredictProbaRowsSumToOne(t *testing.T) {
	x, y := blobs(40, []int{1, 2, 3})
	p := NewPipeline(zerolog.Nop(), testConfig())
	if err := p.Fit(context.Background(), x, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	proba, err := p.PredictProba(context.Background(), x)
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	if proba.Rows != x.Rows || proba.Cols != 3 {
		t.Fatalf("shape: got %dx%d, want %dx3", proba.Rows, proba.Cols, x.Rows)
	}
	for i := 0; i < proba.Rows; i++ {
		var sum float64
		for _, v := range proba.RowView(i) {
			if v < 0 || v > 1 {
				t.Fatalf("row %d: probability %v out of range", i, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	x, y := blobs(30, []int{1, 2})

	fit := func() *Matrix {
		p := NewPipeline(zerolog.Nop(), testConfig())
		if err := p.Fit(context.Background(), x, y); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		proba, err := p.PredictProba(context.Background(), x)
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		return proba
	}

	if diff := cmp.Diff(fit().Data, fit().Data); diff != "" {
		t.Errorf("same seed gave different predictions (-first +second):\n%s", diff)
	}
}

func TestPipeline_Errors(t *testing.T) {
	ctx := context.Background()

	x, _ := blobs(10, []int{1})
	y := make([]int, x.Rows)
	for i := range y {
		y[i] = 4
	}
	if err := NewPipeline(zerolog.Nop(), testConfig()).Fit(ctx, x, y); err == nil {
		t.Error("expected error fitting a single class")
	}

	if err := NewPipeline(zerolog.Nop(), testConfig()).Fit(ctx, x, y[:3]); err == nil {
		t.Error("expected error for label count mismatch")
	}

	p := NewPipeline(zerolog.Nop(), testConfig())
	if _, err := p.PredictProba(ctx, x); err == nil {
		t.Error("expected error predicting with an untrained pipeline")
	}

	x2, y2 := blobs(20, []int{1, 2})
	if err := p.Fit(ctx, x2, y2); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := p.PredictProba(ctx, NewMatrix(2, 5)); err == nil {
		t.Error("expected error for feature count mismatch")
	}
}

func TestMLP_FitCancelled(t *testing.T) {
	x, y := blobs(20, []int{0, 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMLP(zerolog.Nop(), testConfig()).Fit(ctx, x, y, 2); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestMLP_TinyDatasetFallsBackToLoss(t *testing.T) {
	x := &Matrix{Rows: 2, Cols: 1, Data: []float64{-1, 1}}
	cfg := testConfig()
	cfg.MaxIter = 20
	m := NewMLP(zerolog.Nop(), cfg)
	if err := m.Fit(context.Background(), x, []int{0, 1}, 2); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if m.NIter == 0 {
		t.Error("expected at least one epoch")
	}
	if !math.IsInf(m.BestValidationScore, -1) {
		t.Errorf("no validation split expected, got score %v", m.BestValidationScore)
	}
}

func TestMLP_InvalidLabels(t *testing.T) {
	x := NewMatrix(3, 2)
	m := NewMLP(zerolog.Nop(), testConfig())
	if err := m.Fit(context.Background(), x, []int{0, 1, 2}, 2); err == nil {
		t.Error("expected error for label outside class range")
	}
	if err := m.Fit(context.Background(), x, []int{0, 0, 0}, 1); err == nil {
		t.Error("expected error for a single class")
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 0, 41)
	for i := 0; i < 30; i++ {
		y = append(y, 0)
	}
	for i := 0; i < 10; i++ {
		y = append(y, 1)
	}
	y = append(y, 2)

	rng := rand.New(rand.NewPCG(1, 2))
	train, val := stratifiedSplit(rng, y, 3, 0.1)
	if len(train)+len(val) != len(y) {
		t.Fatalf("split lost samples: %d + %d != %d", len(train), len(val), len(y))
	}

	count := func(idx []int) map[int]int {
		c := map[int]int{}
		for _, i := range idx {
			c[y[i]]++
		}
		return c
	}
	if diff := cmp.Diff(map[int]int{0: 3, 1: 1}, count(val)); diff != "" {
		t.Errorf("validation classes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[int]int{0: 27, 1: 9, 2: 1}, count(train)); diff != "" {
		t.Errorf("training classes mismatch (-want +got):\n%s", diff)
	}
}
