// Package crf implements a fully connected conditional random field over
// image pixels with Gaussian edge potentials, solved by mean-field
// inference (Krähenbühl and Koltun 2011).
//
// Pairwise messages are computed with a permutohedral lattice, so each
// iteration is linear in the number of pixels. Refiner wraps the CRF with
// the decimate, infer and resize steps used to clean up classifier output.
package crf
