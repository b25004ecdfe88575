// Package features detects keypoints and computes local descriptors.
//
// Two interchangeable algorithm families implement the Extractor interface:
//
//   - FamilyGradient builds a difference-of-Gaussian scale space, refines
//     extrema to sub-pixel accuracy, assigns dominant gradient orientations
//     and describes each keypoint with a 128-value histogram of oriented
//     gradients. Descriptors are compared with Euclidean distance. This is
//     the slower, more discriminative family.
//   - FamilyBinary finds FAST corners over a scale pyramid, orients them by
//     intensity centroid and describes them with 256 steered binary
//     intensity comparisons. Descriptors are compared with Hamming
//     distance. This family is several times faster and much smaller.
//
// # Determinism
//
// Both families are fully deterministic: the same image and Options always
// produce the same keypoints in the same order (strongest first). The binary
// comparison pattern is generated from a fixed seed at package init.
//
// # Suppression and Caps
//
// Options.MinResponse drops weak keypoints, which keeps flat and low-texture
// regions quiet. Options.MaxFeatures caps the output; when exceeded, the
// strongest responses are kept.
//
// # Failure Behavior
//
// Extraction never returns an error. Uniform, zero-size or tiny images yield
// an empty Set, which downstream matching treats as "no correspondences".
//
// # Coordinate System
//
// Keypoint coordinates are in input pixels with pixel centres on integers,
// regardless of the pyramid level a keypoint was found on.
package features
