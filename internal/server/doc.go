// Package server implements the MCP (Model Context Protocol) server for the
// panorama tools.
//
// The server speaks JSON-RPC 2.0 over stdio, one request per line:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Image information:
//   - image_load: Load image and get metadata
//   - image_dimensions: Get width and height
//   - image_crop: Extract a rectangular region as PNG
//
// Panorama:
//   - panorama_stitch: Stitch overlapping photographs into one image
//   - panorama_visualize: Draw keypoints and the best matches of a pair
//   - panorama_features: Count and draw keypoints per image
//
// # Results and Errors
//
// Tool results are JSON documents wrapped in MCP text content. Inputs that
// cannot be stitched are ordinary results whose "status" names the failure
// (InsufficientImages, InsufficientFeatures, HomographyEstimationFailed,
// DisconnectedImageSet, DegenerateTransform); a successful stitch has
// status "ok". Unreadable files, invalid arguments and cancellation are
// JSON-RPC errors with code -32000.
//
// Decoded images are cached by path for the lifetime of the server, so a
// stitch followed by visualizing one of its pairs decodes each file once.
package server
