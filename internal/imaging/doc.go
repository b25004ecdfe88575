// Package imaging provides the image plumbing shared by the panorama
// pipeline and its outer surfaces.
//
// It covers three concerns:
//   - Loading: ImageCache decodes PNG, JPEG, GIF, BMP, TIFF and WebP files
//     once per path, honouring EXIF orientation.
//   - Transport: EncodePNG, Crop and Save turn images into base64 PNG
//     results or files.
//   - Analysis: Plane is a float64 luminance raster with the Gaussian blur,
//     resampling and differencing the feature detectors are built on.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner,
// X increasing rightward and Y downward. For regions, (x1,y1) is inclusive
// and (x2,y2) is exclusive. Plane.Sample treats integer coordinates as pixel
// centres.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. Planes are not synchronized; the
// pipeline gives each goroutine its own or only reads shared ones.
package imaging
