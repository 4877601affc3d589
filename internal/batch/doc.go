// Package batch segments every doodled image under a directory.
//
// Images are matched with a doublestar pattern. Each image foo.jpg is paired
// with foo_doodles.png next to it and produces foo_label.png (and,
// optionally, foo_overlay.png) under the output directory, mirroring the
// input tree.
package batch
