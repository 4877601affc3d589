package classifier

import (
	"math"

	"github.com/pkg/errors"
)

// minScale is ten times the float64 machine epsilon; deviations below it
// are treated as zero.
const minScale = 10 * 2.220446049250313e-16

// StandardScaler centres each feature on zero mean and unit variance.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit learns per-feature means and population standard deviations.
// Constant features get a scale of 1 so they pass through centred.
func (s *StandardScaler) Fit(x *Matrix) error {
	if x.Rows == 0 {
		return errors.New("cannot fit scaler on zero samples")
	}
	s.Mean = make([]float64, x.Cols)
	s.Scale = make([]float64, x.Cols)

	for i := 0; i < x.Rows; i++ {
		for j, v := range x.RowView(i) {
			s.Mean[j] += v
		}
	}
	n := float64(x.Rows)
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for i := 0; i < x.Rows; i++ {
		for j, v := range x.RowView(i) {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		sd := math.Sqrt(s.Scale[j] / n)
		if sd < minScale || math.IsNaN(sd) {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return nil
}

// TransformRow scales row in place.
func (s *StandardScaler) TransformRow(row []float64) {
	for j := range row {
		row[j] = (row[j] - s.Mean[j]) / s.Scale[j]
	}
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x *Matrix) *Matrix {
	out := &Matrix{Rows: x.Rows, Cols: x.Cols, Data: make([]float64, len(x.Data))}
	copy(out.Data, x.Data)
	for i := 0; i < out.Rows; i++ {
		s.TransformRow(out.RowView(i))
	}
	return out
}
