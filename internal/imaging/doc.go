// Package imaging provides the raster, label and image I/O layer of the
// segmentation engine.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner, X
// increasing rightward and Y increasing downward. Raster and LabelMap store
// pixels row by row in that order.
//
// # Labels
//
// A LabelMap holds one uint8 class id per pixel. On doodle inputs 0 means
// "not annotated" and classes start at 1. Segmentation outputs are 0-based:
// doodle class k comes back as k-1.
//
// Doodles are read either from gray images, where the pixel value is the
// class id, or from colour images painted with a Palette. Colour matching is
// done in CIE-Lab so slightly anti-aliased strokes still resolve to a class.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. Raster and LabelMap values are not;
// functions in this package never modify their inputs unless documented to
// work in place (Rescale).
package imaging
