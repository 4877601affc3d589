package crf

import (
	"math"

	"github.com/pkg/errors"
)

// maxFeatures bounds the feature dimension of a lattice. Bilateral kernels
// over RGB use 5.
const maxFeatures = 8

type latticeKey [maxFeatures]int32

type neighbours struct {
	n1, n2 int32
}

// lattice is a permutohedral lattice used for fast high-dimensional
// Gaussian filtering (Adams et al. 2010).
type lattice struct {
	d, n, m int

	// offset and weight hold, for every point and every simplex vertex,
	// the lattice vertex index and its barycentric weight.
	offset []int32
	weight []float32

	// blur holds, per direction and vertex, the two neighbours along it.
	// Missing neighbours are -1.
	blur []neighbours
}

// newLattice embeds n points with d features each. features is point-major.
func newLattice(features []float32, d, n int) (*lattice, error) {
	if d < 1 || d > maxFeatures {
		return nil, errors.Errorf("lattice dimension %d outside [1,%d]", d, maxFeatures)
	}
	if len(features) != d*n {
		return nil, errors.Errorf("expected %d feature values, got %d", d*n, len(features))
	}

	l := &lattice{
		d:      d,
		n:      n,
		offset: make([]int32, n*(d+1)),
		weight: make([]float32, n*(d+1)),
	}

	invStdDev := math.Sqrt(2.0/3.0) * float64(d+1)
	scale := make([]float64, d)
	for i := range scale {
		scale[i] = invStdDev / math.Sqrt(float64((i+1)*(i+2)))
	}

	canonical := make([]int, (d+1)*(d+1))
	for i := 0; i <= d; i++ {
		for j := 0; j <= d-i; j++ {
			canonical[i*(d+1)+j] = i
		}
		for j := d - i + 1; j <= d; j++ {
			canonical[i*(d+1)+j] = i - (d + 1)
		}
	}

	index := make(map[latticeKey]int32, n)
	var keys []latticeKey

	elevated := make([]float64, d+1)
	rem0 := make([]int, d+1)
	rank := make([]int, d+1)
	bary := make([]float64, d+2)
	downFactor := 1.0 / float64(d+1)
	upFactor := d + 1

	for k := 0; k < n; k++ {
		f := features[k*d : (k+1)*d]

		// Elevate onto the hyperplane.
		var sm float64
		for j := d; j > 0; j-- {
			cf := float64(f[j-1]) * scale[j-1]
			elevated[j] = sm - float64(j)*cf
			sm += cf
		}
		elevated[0] = sm

		// Closest remainder-0 point.
		sum := 0
		for i := 0; i <= d; i++ {
			rd := int(math.Round(downFactor * elevated[i]))
			rem0[i] = rd * upFactor
			sum += rd
		}

		for i := range rank {
			rank[i] = 0
		}
		for i := 0; i < d; i++ {
			di := elevated[i] - float64(rem0[i])
			for j := i + 1; j <= d; j++ {
				if di < elevated[j]-float64(rem0[j]) {
					rank[i]++
				} else {
					rank[j]++
				}
			}
		}

		// Move the point back onto the plane when the rounded coordinates
		// do not sum to zero.
		for i := 0; i <= d; i++ {
			rank[i] += sum
			if rank[i] < 0 {
				rank[i] += d + 1
				rem0[i] += d + 1
			} else if rank[i] > d {
				rank[i] -= d + 1
				rem0[i] -= d + 1
			}
		}

		for i := range bary {
			bary[i] = 0
		}
		for i := 0; i <= d; i++ {
			v := (elevated[i] - float64(rem0[i])) * downFactor
			bary[d-rank[i]] += v
			bary[d-rank[i]+1] -= v
		}
		bary[0] += 1 + bary[d+1]

		for r := 0; r <= d; r++ {
			var key latticeKey
			for i := 0; i < d; i++ {
				key[i] = int32(rem0[i] + canonical[r*(d+1)+rank[i]])
			}
			idx, ok := index[key]
			if !ok {
				idx = int32(len(keys))
				index[key] = idx
				keys = append(keys, key)
			}
			l.offset[k*(d+1)+r] = idx
			l.weight[k*(d+1)+r] = float32(bary[r])
		}
	}

	l.m = len(keys)
	l.blur = make([]neighbours, (d+1)*l.m)
	lookup := func(key latticeKey) int32 {
		if idx, ok := index[key]; ok {
			return idx
		}
		return -1
	}
	for dir := 0; dir <= d; dir++ {
		for j, key := range keys {
			var n1, n2 latticeKey
			for i := 0; i < d; i++ {
				n1[i] = key[i] - 1
				n2[i] = key[i] + 1
			}
			if dir < d {
				n1[dir] = key[dir] + int32(d)
				n2[dir] = key[dir] - int32(d)
			}
			l.blur[dir*l.m+j] = neighbours{n1: lookup(n1), n2: lookup(n2)}
		}
	}
	return l, nil
}

// compute filters in (n points by vs values, point-major) into out; out may
// alias in. reverse runs the blur directions backwards, giving the
// transposed filter.
func (l *lattice) compute(out, in []float32, vs int, reverse bool) {
	d := l.d
	// Slot 0 stays zero and stands in for missing neighbours.
	values := make([]float32, (l.m+2)*vs)
	next := make([]float32, (l.m+2)*vs)

	for i := 0; i < l.n; i++ {
		src := in[i*vs : (i+1)*vs]
		for j := 0; j <= d; j++ {
			o := int(l.offset[i*(d+1)+j]+1) * vs
			w := l.weight[i*(d+1)+j]
			for k, v := range src {
				values[o+k] += w * v
			}
		}
	}

	for step := 0; step <= d; step++ {
		dir := step
		if reverse {
			dir = d - step
		}
		for i := 0; i < l.m; i++ {
			nb := l.blur[dir*l.m+i]
			old := values[(i+1)*vs : (i+2)*vs]
			dst := next[(i+1)*vs : (i+2)*vs]
			a := values[int(nb.n1+1)*vs:]
			b := values[int(nb.n2+1)*vs:]
			for k := range dst {
				dst[k] = old[k] + 0.5*(a[k]+b[k])
			}
		}
		values, next = next, values
	}

	alpha := float32(1 / (1 + math.Pow(2, -float64(d))))
	for i := 0; i < l.n; i++ {
		dst := out[i*vs : (i+1)*vs]
		for k := range dst {
			dst[k] = 0
		}
		for j := 0; j <= d; j++ {
			o := int(l.offset[i*(d+1)+j]+1) * vs
			w := l.weight[i*(d+1)+j] * alpha
			for k := range dst {
				dst[k] += w * values[o+k]
			}
		}
	}
}
