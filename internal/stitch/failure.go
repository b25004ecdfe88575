package stitch

import (
	"errors"
	"fmt"
)

// FailureKind is the closed set of reasons a stitch request can fail.
type FailureKind int

const (
	// InsufficientImages: fewer than two images were supplied.
	InsufficientImages FailureKind = iota + 1

	// InsufficientFeatures: an image yielded fewer keypoints than the
	// configured minimum.
	InsufficientFeatures

	// HomographyEstimationFailed: robust estimation found no transform with
	// enough inliers for a required pair.
	HomographyEstimationFailed

	// DisconnectedImageSet: the accepted pairs do not connect every image.
	DisconnectedImageSet

	// DegenerateTransform: a transform is non-invertible or warps an image
	// onto a degenerate footprint.
	DegenerateTransform
)

// String returns the kind's name.
func (k FailureKind) String() string {
	switch k {
	case InsufficientImages:
		return "InsufficientImages"
	case InsufficientFeatures:
		return "InsufficientFeatures"
	case HomographyEstimationFailed:
		return "HomographyEstimationFailed"
	case DisconnectedImageSet:
		return "DisconnectedImageSet"
	case DegenerateTransform:
		return "DegenerateTransform"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Failure is the error returned by Stitch for every unsuccessful request
// other than cancellation and invalid configuration.
type Failure struct {
	Kind FailureKind

	// Image is the offending image index, or -1.
	Image int

	// PairA and PairB identify the offending pair, or are -1.
	PairA int
	PairB int

	// Err is the underlying component error, if any.
	Err error
}

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Image: -1, PairA: -1, PairB: -1, Err: err}
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	switch {
	case f.Image >= 0:
		msg += fmt.Sprintf(" (image %d)", f.Image)
	case f.PairA >= 0:
		msg += fmt.Sprintf(" (pair %d-%d)", f.PairA, f.PairB)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}
