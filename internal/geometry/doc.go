// Package geometry estimates and manipulates planar homographies.
//
// A Homography maps points of image B into the frame of image A:
//
//	[x']   [h0 h1 h2] [x]
//	[y'] ~ [h3 h4 h5] [y]
//	[w']   [h6 h7 h8] [1]
//
// stored row-major with h8 normalized to 1. Apply performs the projective
// divide and reports failure instead of dividing by a near-zero w'.
//
// # Robust Estimation
//
// Estimate runs RANSAC over point correspondences: it repeatedly solves for
// the homography through four random non-collinear correspondences, scores
// every correspondence by reprojection error and keeps the hypothesis with
// the most inliers. The iteration count adapts to the observed inlier ratio
// (stopping once Confidence is reached) and never exceeds MaxIterations. The
// winning hypothesis is refit by normalized DLT least squares over all of
// its inliers.
//
// Sampling uses a seeded generator, so estimation is deterministic for a
// given input and RANSACOptions.
//
// # Errors
//
//   - ErrInsufficientMatches: fewer than four correspondences.
//   - ErrInsufficientInliers: the best hypothesis has fewer than MinInliers.
//   - ErrDegenerate: the result is singular, mirrors the image or sends an
//     inlier to infinity.
package geometry
