// Package classifier implements the per-pixel classifier Doodler trains on
// annotated pixels: a StandardScaler followed by a multi-layer perceptron
// with ReLU hidden layers and a softmax output, trained with Adam and L2
// regularisation.
//
// Training is deterministic for a given MLPConfig.Seed. With early stopping
// a stratified share of the samples is held out and the weights with the
// best validation accuracy are kept.
package classifier
