package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
	"github.com/ironsheep/panorama-tools-mcp/internal/imaging"
	"github.com/ironsheep/panorama-tools-mcp/internal/logging"
	"github.com/ironsheep/panorama-tools-mcp/internal/stitch"
	"github.com/ironsheep/panorama-tools-mcp/internal/visualize"
)

// statusOK marks a successful panorama result; failures carry the failure
// kind instead.
const statusOK = "ok"

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "panorama_stitch").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
// An input that cannot be stitched is not an execution error: it is a
// normal result whose status names the failure.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	logging.ToolCall(s.logger, params.Name, time.Since(start), err)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Basic Image Information
	case "image_load":
		return s.handleImageLoad(args)
	case "image_dimensions":
		return s.handleImageDimensions(args)
	case "image_crop":
		return s.handleImageCrop(args)

	// Panorama Operations
	case "panorama_stitch":
		return s.handlePanoramaStitch(ctx, args)
	case "panorama_visualize":
		return s.handlePanoramaVisualize(ctx, args)
	case "panorama_features":
		return s.handlePanoramaFeatures(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments, treating absent arguments as an
// empty object.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// === Basic Image Information Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

type imageCropArgs struct {
	Path  string  `json:"path"`
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleImageCrop(args json.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.Crop(img, a.X1, a.Y1, a.X2, a.Y2, a.Scale)
}

// === Panorama Handlers ===

// stitchArgs are the panorama_stitch arguments. Nil fields keep the
// server's configured value.
type stitchArgs struct {
	Paths           []string `json:"paths"`
	Family          *string  `json:"family"`
	ReprojThreshold *float64 `json:"reproj_threshold"`
	MinInliers      *int     `json:"min_inliers"`
	MaxIterations   *int     `json:"max_iterations"`
	FeatherWidth    *float64 `json:"feather_width"`
	MaxFeatures     *int     `json:"max_features"`
	MinKeypoints    *int     `json:"min_keypoints"`
	Seed            *int64   `json:"seed"`
	OutputPath      string   `json:"output_path"`
}

// apply overlays the arguments on cfg.
func (a stitchArgs) apply(cfg stitch.Config) (stitch.Config, error) {
	if a.Family != nil {
		f, err := features.ParseFamily(*a.Family)
		if err != nil {
			return cfg, err
		}
		cfg.Family = f
	}
	if a.ReprojThreshold != nil {
		cfg.ReprojThreshold = *a.ReprojThreshold
	}
	if a.MinInliers != nil {
		cfg.MinInliers = *a.MinInliers
	}
	if a.MaxIterations != nil {
		cfg.MaxIterations = *a.MaxIterations
	}
	if a.FeatherWidth != nil {
		cfg.FeatherWidth = *a.FeatherWidth
	}
	if a.MaxFeatures != nil {
		cfg.MaxFeatures = *a.MaxFeatures
	}
	if a.MinKeypoints != nil {
		cfg.MinKeypoints = *a.MinKeypoints
	}
	if a.Seed != nil {
		cfg.Seed = *a.Seed
	}
	return cfg, nil
}

// Placement locates one input image on the panorama.
type Placement struct {
	Path string `json:"path"`

	// Homography maps the image's pixels into panorama pixels.
	Homography geometry.Homography `json:"homography"`

	Keypoints int `json:"keypoints"`
}

// StitchResult is a successful panorama_stitch result.
type StitchResult struct {
	Status string `json:"status"`
	Width  int    `json:"width"`
	Height int    `json:"height"`

	// Anchor is the index of the reference image.
	Anchor int `json:"anchor"`

	// OriginX and OriginY locate the panorama's top-left pixel in the
	// anchor image's frame.
	OriginX int `json:"origin_x"`
	OriginY int `json:"origin_y"`

	Placements []Placement          `json:"placements"`
	Pairs      []stitch.PairReport  `json:"pairs"`
	OutputPath string               `json:"output_path,omitempty"`
	Panorama   *imaging.EncodedImage `json:"panorama,omitempty"`
}

// FailureResult reports why images could not be stitched or visualized.
type FailureResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Image   *int   `json:"image,omitempty"`
	PairA   *int   `json:"pair_a,omitempty"`
	PairB   *int   `json:"pair_b,omitempty"`
}

func failureResult(f *stitch.Failure) *FailureResult {
	res := &FailureResult{Status: f.Kind.String(), Message: f.Error()}
	if f.Image >= 0 {
		i := f.Image
		res.Image = &i
	}
	if f.PairA >= 0 {
		a, b := f.PairA, f.PairB
		res.PairA, res.PairB = &a, &b
	}
	return res
}

func (s *Server) handlePanoramaStitch(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a stitchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cfg, err := a.apply(s.stitchCfg)
	if err != nil {
		return nil, err
	}
	st, err := stitch.New(cfg, stitch.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	images, err := s.cache.LoadAll(a.Paths)
	if err != nil {
		return nil, err
	}

	res, err := st.Stitch(ctx, images)
	if err != nil {
		var f *stitch.Failure
		if errors.As(err, &f) {
			return failureResult(f), nil
		}
		return nil, err
	}

	b := res.Panorama.Bounds()
	out := &StitchResult{
		Status:     statusOK,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Anchor:     res.Anchor,
		OriginX:    res.Origin.X,
		OriginY:    res.Origin.Y,
		Placements: make([]Placement, len(a.Paths)),
		Pairs:      res.Pairs,
	}
	for i, p := range a.Paths {
		out.Placements[i] = Placement{Path: p, Homography: res.Transforms[i], Keypoints: res.Keypoints[i]}
	}

	if a.OutputPath != "" {
		if err := imaging.Save(res.Panorama, a.OutputPath); err != nil {
			return nil, err
		}
		out.OutputPath = a.OutputPath
		return out, nil
	}
	out.Panorama, err = imaging.EncodePNG(res.Panorama)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type visualizeArgs struct {
	PathA      string  `json:"path_a"`
	PathB      string  `json:"path_b"`
	Family     *string `json:"family"`
	TopK       *int    `json:"top_k"`
	MatchColor *string `json:"match_color"`
}

// DrawnMatch is one match line on the composite, in each image's own
// pixel coordinates.
type DrawnMatch struct {
	AX       float64 `json:"a_x"`
	AY       float64 `json:"a_y"`
	BX       float64 `json:"b_x"`
	BY       float64 `json:"b_y"`
	Distance float64 `json:"distance"`
}

// VisualizeResult is a panorama_visualize result.
type VisualizeResult struct {
	Status     string                `json:"status"`
	KeypointsA int                   `json:"keypoints_a"`
	KeypointsB int                   `json:"keypoints_b"`
	MatchCount int                   `json:"match_count"`
	Drawn      []DrawnMatch          `json:"drawn"`
	ImageA     *imaging.EncodedImage `json:"image_a"`
	ImageB     *imaging.EncodedImage `json:"image_b"`
	Matches    *imaging.EncodedImage `json:"matches"`
}

func (s *Server) handlePanoramaVisualize(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a visualizeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cfg := s.visCfg
	if a.Family != nil {
		f, err := features.ParseFamily(*a.Family)
		if err != nil {
			return nil, err
		}
		cfg.Family = f
	}
	if a.MatchColor != nil {
		cfg.MatchColor = *a.MatchColor
	}
	topK := s.topK
	if a.TopK != nil {
		topK = *a.TopK
	}

	images, err := s.cache.LoadAll([]string{a.PathA, a.PathB})
	if err != nil {
		return nil, err
	}

	vis, err := visualize.VisualizeAndMatch(ctx, images[0], images[1], cfg, topK)
	if errors.Is(err, visualize.ErrInsufficientFeatures) {
		return &FailureResult{Status: stitch.InsufficientFeatures.String(), Message: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &VisualizeResult{
		Status:     statusOK,
		KeypointsA: vis.SetA.Len(),
		KeypointsB: vis.SetB.Len(),
		MatchCount: vis.MatchCount,
		Drawn:      make([]DrawnMatch, len(vis.Drawn)),
	}
	for i, m := range vis.Drawn {
		ka, kb := vis.SetA.Keypoints[m.QueryIdx], vis.SetB.Keypoints[m.TrainIdx]
		out.Drawn[i] = DrawnMatch{AX: ka.X, AY: ka.Y, BX: kb.X, BY: kb.Y, Distance: m.Distance}
	}
	if out.ImageA, err = imaging.EncodePNG(vis.KeypointsA); err != nil {
		return nil, err
	}
	if out.ImageB, err = imaging.EncodePNG(vis.KeypointsB); err != nil {
		return nil, err
	}
	if out.Matches, err = imaging.EncodePNG(vis.Matches); err != nil {
		return nil, err
	}
	return out, nil
}

type featuresArgs struct {
	Paths       []string `json:"paths"`
	Family      *string  `json:"family"`
	MaxFeatures *int     `json:"max_features"`
	Annotate    *bool    `json:"annotate"`
}

// strongestReported caps the keypoints listed per image.
const strongestReported = 5

// ImageFeatures summarizes the keypoints of one image.
type ImageFeatures struct {
	Path      string                `json:"path"`
	Keypoints int                   `json:"keypoints"`
	Strongest []features.Keypoint   `json:"strongest"`
	Annotated *imaging.EncodedImage `json:"annotated,omitempty"`
}

// FeaturesResult is a panorama_features result.
type FeaturesResult struct {
	Family string          `json:"family"`
	Images []ImageFeatures `json:"images"`
}

func (s *Server) handlePanoramaFeatures(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a featuresArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, errors.New("at least one path is required")
	}
	cfg := s.visCfg
	if a.Family != nil {
		f, err := features.ParseFamily(*a.Family)
		if err != nil {
			return nil, err
		}
		cfg.Family = f
	}
	opts := features.DefaultOptions(cfg.Family)
	opts.MaxFeatures = cfg.MaxFeatures
	if a.MaxFeatures != nil {
		opts.MaxFeatures = *a.MaxFeatures
	}
	if cfg.MinResponse > 0 {
		opts.MinResponse = cfg.MinResponse
	}
	ext, err := features.New(cfg.Family, opts)
	if err != nil {
		return nil, err
	}

	images, err := s.cache.LoadAll(a.Paths)
	if err != nil {
		return nil, err
	}
	sets, err := features.ExtractAll(ctx, ext, images, s.stitchCfg.Workers)
	if err != nil {
		return nil, err
	}

	annotate := a.Annotate == nil || *a.Annotate
	out := &FeaturesResult{Family: cfg.Family.String(), Images: make([]ImageFeatures, len(a.Paths))}
	for i, set := range sets {
		n := set.Len()
		if n > strongestReported {
			n = strongestReported
		}
		out.Images[i] = ImageFeatures{
			Path:      a.Paths[i],
			Keypoints: set.Len(),
			Strongest: append([]features.Keypoint{}, set.Keypoints[:n]...),
		}
		if annotate {
			enc, err := annotated(images[i], set, cfg.LineWidth)
			if err != nil {
				return nil, err
			}
			out.Images[i].Annotated = enc
		}
	}
	return out, nil
}

func annotated(img image.Image, set *features.Set, lineWidth float64) (*imaging.EncodedImage, error) {
	return imaging.EncodePNG(visualize.DrawKeypoints(img, set.Keypoints, lineWidth))
}
