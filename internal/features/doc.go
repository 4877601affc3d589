// Package features computes the multi-scale per-pixel features the
// classifier is trained on.
//
// For every band and every Gaussian scale sigma the extractor produces, in
// order:
//
//  1. the radius of the blurred pixel coordinates (location),
//  2. the blurred intensity,
//  3. the Sobel edge magnitude of the blurred intensity,
//  4. the two eigenvalues of the Hessian of the blurred intensity (texture).
//
// Items 2-4 can be switched off individually. Scales are spaced
// geometrically between SigmaMin and SigmaMax. When the machine has plenty
// of free memory the scales of a band are computed concurrently.
package features
