// Package compose assembles a panorama from pairwise homographies.
//
// # Connectivity Graph
//
// Graph is an adjacency map keyed by image index. Every accepted image
// pair contributes an Edge in each direction: the estimated transform
// mapping the neighbour into the node's frame, and on the neighbour the
// inverse. Edges are weighted by the inlier count that supported them.
//
// The anchor (reference frame) is the image with the largest summed edge
// weight, ties going to the lowest index. Transforms into the anchor frame
// are composed along a maximum-weight spanning tree grown from the anchor:
//
//	T[anchor] = I
//	T[j]      = T[i] · H(j→i)   for each tree edge i–j
//
// # Canvas
//
// The canvas is the integer rectangle bounding every image's four warped
// corners. Corners are taken at 0 and width/height so that an identity
// placement yields a canvas exactly the size of the input. A corner whose
// homogeneous coordinate is not safely positive, a footprint under one
// square pixel or a canvas larger than MaxCanvasPixels is reported as
// ErrDegenerateFootprint.
//
// # Warping and Blending
//
// Each canvas pixel is inverse mapped into every image and sampled
// bilinearly. Pixels covered by one image copy that sample. Pixels covered
// by several take the weighted mean, where an image's weight ramps linearly
// from its border to 1 over FeatherWidth pixels, which hides the seam.
// Pixels no image covers are opaque black. Rows are rendered in parallel.
package compose
