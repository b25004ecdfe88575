// Package visualize renders diagnostic views of feature extraction and
// matching.
//
// VisualizeAndMatch produces three images for a pair of inputs: each input
// with all of its keypoints drawn, and the two inputs side by side with the
// top-K cross-checked matches joined by lines. Keypoints are drawn as
// circles of their characteristic size with a tick along their dominant
// orientation. Colours step around the hue circle by the golden angle.
//
// The output is purely diagnostic and never influences stitching. A pair
// where only one image has keypoints still renders, with no match lines;
// only a pair with no keypoints at all is reported as
// ErrInsufficientFeatures.
package visualize
