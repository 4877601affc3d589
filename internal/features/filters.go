package features

import (
	"math"
)

// gaussianTruncate is the kernel half-width in standard deviations.
const gaussianTruncate = 4.0

// gaussianKernel returns the normalised 1D Gaussian weights for sigma,
// centred at index radius.
func gaussianKernel(sigma float64) []float64 {
	radius := int(gaussianTruncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur smooths a width×height plane with a separable Gaussian.
// Samples beyond the border repeat the nearest edge pixel.
func GaussianBlur(plane []float32, width, height int, sigma float64) []float32 {
	if sigma <= 0 {
		out := make([]float32, len(plane))
		copy(out, plane)
		return out
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	// Rows first, then columns.
	tmp := make([]float32, len(plane))
	for y := 0; y < height; y++ {
		row := plane[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				sum += float64(row[clamp(x+k, 0, width-1)]) * kernel[k+radius]
			}
			tmp[y*width+x] = float32(sum)
		}
	}

	out := make([]float32, len(plane))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				sum += float64(tmp[clamp(y+k, 0, height-1)*width+x]) * kernel[k+radius]
			}
			out[y*width+x] = float32(sum)
		}
	}
	return out
}

// blur1D smooths a single line of values with nearest-edge borders.
func blur1D(line []float64, sigma float64) []float64 {
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	n := len(line)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for k := -radius; k <= radius; k++ {
			sum += line[clamp(i+k, 0, n-1)] * kernel[k+radius]
		}
		out[i] = sum
	}
	return out
}

// Sobel returns the edge magnitude of a plane.
//
// Each axis uses the normalised Sobel pair (smoothing [1 2 1]/4 across,
// difference [1 0 -1] along), borders are mirrored, and the magnitude is
// sqrt((Gh² + Gv²) / 2).
func Sobel(plane []float32, width, height int) []float32 {
	smooth := [3]float64{0.25, 0.5, 0.25}
	diff := [3]float64{1, 0, -1}

	out := make([]float32, len(plane))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var gh, gv float64
			for ky := -1; ky <= 1; ky++ {
				py := mirror(y+ky, height)
				for kx := -1; kx <= 1; kx++ {
					px := mirror(x+kx, width)
					v := float64(plane[py*width+px])
					gh += v * diff[ky+1] * smooth[kx+1]
					gv += v * smooth[ky+1] * diff[kx+1]
				}
			}
			out[y*width+x] = float32(math.Sqrt((gh*gh + gv*gv) / 2))
		}
	}
	return out
}

// Axis selects the direction of a derivative.
type Axis int

const (
	// Rows differentiates along Y (down the image).
	Rows Axis = iota
	// Cols differentiates along X (across the image).
	Cols
)

// Gradient differentiates a plane along one axis: central differences in the
// interior and one-sided differences on the first and last sample. A
// dimension of length 1 has zero gradient.
func Gradient(plane []float32, width, height int, axis Axis) []float32 {
	out := make([]float32, len(plane))
	at := func(x, y int) float32 { return plane[y*width+x] }

	switch axis {
	case Rows:
		if height < 2 {
			return out
		}
		for x := 0; x < width; x++ {
			out[x] = at(x, 1) - at(x, 0)
			out[(height-1)*width+x] = at(x, height-1) - at(x, height-2)
			for y := 1; y < height-1; y++ {
				out[y*width+x] = (at(x, y+1) - at(x, y-1)) / 2
			}
		}
	case Cols:
		if width < 2 {
			return out
		}
		for y := 0; y < height; y++ {
			out[y*width] = at(1, y) - at(0, y)
			out[y*width+width-1] = at(width-1, y) - at(width-2, y)
			for x := 1; x < width-1; x++ {
				out[y*width+x] = (at(x+1, y) - at(x-1, y)) / 2
			}
		}
	}
	return out
}

// HessianEigenvalues returns the two eigenvalues of the per-pixel Hessian,
// largest first. Second derivatives come from repeated Gradient calls.
func HessianEigenvalues(plane []float32, width, height int) (l1, l2 []float32) {
	gr := Gradient(plane, width, height, Rows)
	gc := Gradient(plane, width, height, Cols)
	hrr := Gradient(gr, width, height, Rows)
	hrc := Gradient(gr, width, height, Cols)
	hcc := Gradient(gc, width, height, Cols)

	l1 = make([]float32, len(plane))
	l2 = make([]float32, len(plane))
	for i := range plane {
		a, b, c := float64(hrr[i]), float64(hrc[i]), float64(hcc[i])
		mean := (a + c) / 2
		d := math.Sqrt(((a-c)/2)*((a-c)/2) + b*b)
		l1[i] = float32(mean + d)
		l2[i] = float32(mean - d)
	}
	return l1, l2
}

// clamp constrains an integer value to the range [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

// mirror reflects an out-of-range index about the edge (-1 -> 0, n -> n-1).
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}
