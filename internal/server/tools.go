package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// familyProperty is shared by every tool that extracts features.
var familyProperty = map[string]interface{}{
	"type":        "string",
	"enum":        []string{"gradient", "binary"},
	"description": "Feature family: gradient (SIFT-like, float descriptors) or binary (ORB-like, bit-string descriptors). Defaults to the server configuration.",
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Basic Image Information
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions and format. The decoded image is cached for later panorama calls.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Crop a rectangular region from an image and return it as base64-encoded PNG. Use this to inspect the overlap between two photographs or a seam in a panorama.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},

		// Panorama Operations
		{
			Name: "panorama_stitch",
			Description: "Stitch two or more overlapping photographs into one panorama. " +
				"Returns the panorama (base64 PNG, or written to output_path), the placement of every input and the accepted pairwise alignments. " +
				"When stitching is not possible the result has a status naming the reason: InsufficientImages, InsufficientFeatures, " +
				"HomographyEstimationFailed, DisconnectedImageSet or DegenerateTransform.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Absolute paths of the images, in capture order",
					},
					"family": familyProperty,
					"reproj_threshold": map[string]interface{}{
						"type":        "number",
						"description": "RANSAC inlier threshold in pixels. Default 3",
						"default":     3.0,
					},
					"min_inliers": map[string]interface{}{
						"type":        "integer",
						"description": "Inliers a pair needs to be accepted. Default 10",
						"default":     10,
					},
					"max_iterations": map[string]interface{}{
						"type":        "integer",
						"description": "RANSAC iteration cap. Default 2000",
						"default":     2000,
					},
					"feather_width": map[string]interface{}{
						"type":        "number",
						"description": "Seam blending width in pixels; 0 averages overlaps uniformly. Default 30",
						"default":     30.0,
					},
					"max_features": map[string]interface{}{
						"type":        "integer",
						"description": "Keypoint cap per image; 0 is unlimited",
					},
					"min_keypoints": map[string]interface{}{
						"type":        "integer",
						"description": "Fail with InsufficientFeatures when an image has fewer keypoints; 0 disables the check",
					},
					"seed": map[string]interface{}{
						"type":        "integer",
						"description": "RANSAC random seed; equal seeds give identical panoramas",
					},
					"output_path": map[string]interface{}{
						"type":        "string",
						"description": "Optional file to write the panorama to instead of returning it inline. The format follows the extension.",
					},
				},
				"required": []string{"paths"},
			},
		},
		{
			Name: "panorama_visualize",
			Description: "Diagnose why two images do or do not stitch. Returns each image with its keypoints drawn " +
				"and a side-by-side composite joining the top_k best cross-checked matches with lines.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path_a": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the first image",
					},
					"path_b": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the second image",
					},
					"family": familyProperty,
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "Number of best matches to draw. Default 10",
						"default":     10,
					},
					"match_color": map[string]interface{}{
						"type":        "string",
						"description": "Hex colour for every match line (e.g. '#00ff00'). Default is one colour per match",
					},
				},
				"required": []string{"path_a", "path_b"},
			},
		},
		{
			Name:        "panorama_features",
			Description: "Detect keypoints in one or more images and report how many each has. Images with few keypoints (flat sky, walls) will not stitch.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Absolute paths of the images",
					},
					"family": familyProperty,
					"max_features": map[string]interface{}{
						"type":        "integer",
						"description": "Keypoint cap per image; 0 is unlimited",
					},
					"annotate": map[string]interface{}{
						"type":        "boolean",
						"description": "Return each image with its keypoints drawn. Default true",
						"default":     true,
					},
				},
				"required": []string{"paths"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
