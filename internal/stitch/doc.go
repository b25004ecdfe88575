// Package stitch orchestrates a panorama request.
//
// A request moves through Collecting, Extracting, Matching and Composing to
// Done. Every image is reduced to features, candidate pairs are matched and
// aligned on a bounded worker pool, accepted pairs form a graph, and the
// graph is composed onto one canvas. Any unsuccessful outcome is a
// *Failure whose Kind is one of InsufficientImages, InsufficientFeatures,
// HomographyEstimationFailed, DisconnectedImageSet or DegenerateTransform.
//
// Identical inputs with an identical Config produce an identical panorama.
package stitch
