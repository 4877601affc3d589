// Package segment turns a sparsely doodled image into a dense label map.
//
// A run standardizes the image, trains a fresh classifier on the doodled
// pixels, predicts every pixel and then refines the prediction with a dense
// CRF. When the classifier or the CRF loses one of the doodled classes the
// CRF is re-run seeded with the doodles themselves. Output labels are
// 0-based: doodle class k becomes label k-1.
package segment
