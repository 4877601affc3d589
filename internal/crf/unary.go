package crf

import (
	"math"

	"github.com/pkg/errors"
)

// softmaxClip is the smallest probability UnaryFromSoftmax takes the log of.
const softmaxClip = 1e-5

// UnaryFromLabels builds unary energies from a sparse annotation. labels
// holds 0 for unannotated pixels and 1..n for annotated ones. Annotated
// pixels put probability gtProb on their class and spread the rest evenly;
// unannotated pixels are uniform.
func UnaryFromLabels(labels []uint8, n int, gtProb float64) ([]float32, error) {
	if n < 2 {
		return nil, errors.Errorf("need at least 2 labels, got %d", n)
	}
	if gtProb <= 0 || gtProb >= 1 {
		return nil, errors.Errorf("gt_prob must be in (0,1), got %v", gtProb)
	}

	pos := float32(-math.Log(gtProb))
	neg := float32(-math.Log((1 - gtProb) / float64(n-1)))
	unsure := float32(-math.Log(1 / float64(n)))

	u := make([]float32, len(labels)*n)
	for i, lab := range labels {
		row := u[i*n : (i+1)*n]
		if lab == 0 {
			for l := range row {
				row[l] = unsure
			}
			continue
		}
		if int(lab) > n {
			return nil, errors.Errorf("label %d at pixel %d exceeds %d labels", lab, i, n)
		}
		for l := range row {
			row[l] = neg
		}
		row[lab-1] = pos
	}
	return u, nil
}

// UnaryFromSoftmax turns pixel-major class probabilities into energies.
func UnaryFromSoftmax(prob []float64, n int) ([]float32, error) {
	if n < 1 || len(prob)%n != 0 {
		return nil, errors.Errorf("%d probabilities do not split into %d labels", len(prob), n)
	}
	u := make([]float32, len(prob))
	for i, p := range prob {
		u[i] = float32(-math.Log(min(max(p, softmaxClip), 1)))
	}
	return u, nil
}
