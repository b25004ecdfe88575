package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/panorama-tools-mcp/internal/logging"
	"github.com/ironsheep/panorama-tools-mcp/internal/testutil"
)

// createTestImageFile creates a test image file and returns its path
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	return writeImageFile(t, testutil.Uniform(width, height, c))
}

// writeImageFile saves img as a PNG in the test's temp directory.
func writeImageFile(t *testing.T, img image.Image) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "handler-test-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if err := png.Encode(tmpFile, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return tmpFile.Name()
}

// overlappingFiles writes two crops of one scene that overlap by 96 pixels.
func overlappingFiles(t *testing.T) (string, string) {
	t.Helper()
	scene := testutil.Scene(352, 200, 31)
	a := scene.SubImage(image.Rect(0, 0, 224, 200))
	b := scene.SubImage(image.Rect(128, 0, 352, 200))
	return writeImageFile(t, a), writeImageFile(t, b)
}

func newTestServer() *Server {
	return New(WithLogger(logging.Discard()))
}

// callTool sends a tools/call request through the request router.
func callTool(t *testing.T, s *Server, name string, args interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{"name": name, "arguments": args}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}

	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// decodeContent unmarshals the JSON text content of a successful tool call.
func decodeContent(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("content: got %#v", result["content"])
	}
	if content[0]["type"] != "text" {
		t.Errorf("content type: got %v, want text", content[0]["type"])
	}
	text, _ := content[0]["text"].(string)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("content is not JSON: %v\n%s", err, text)
	}
}

// decodePNG checks that a base64 field holds a PNG of the stated size.
func decodePNG(t *testing.T, b64 string, width, height int) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := png.Decode(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("invalid PNG: %v", err)
	}
	if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
		t.Errorf("PNG size: got %v, want %dx%d", img.Bounds(), width, height)
	}
	return img
}

func wantToolError(t *testing.T, resp *MCPResponse, code int, contains string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("Error code: got %d, want %d", resp.Error.Code, code)
	}
	if data, _ := resp.Error.Data.(string); !strings.Contains(data, contains) {
		t.Errorf("Error data %q does not mention %q", data, contains)
	}
}

func TestHandleToolsCall_ImageLoad(t *testing.T) {
	s := newTestServer()
	imgPath := createTestImageFile(t, 100, 80, color.RGBA{255, 0, 0, 255})

	var info struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Format string `json:"format"`
	}
	decodeContent(t, callTool(t, s, "image_load", map[string]interface{}{"path": imgPath}), &info)

	if info.Width != 100 || info.Height != 80 || info.Format != "png" {
		t.Errorf("got %+v, want 100x80 png", info)
	}
	if s.cache.Len() != 1 {
		t.Errorf("image should be cached, cache has %d entries", s.cache.Len())
	}
}

func TestHandleToolsCall_ImageDimensions(t *testing.T) {
	s := newTestServer()
	imgPath := createTestImageFile(t, 200, 150, color.RGBA{0, 255, 0, 255})

	var dims struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	decodeContent(t, callTool(t, s, "image_dimensions", map[string]interface{}{"path": imgPath}), &dims)

	if dims.Width != 200 || dims.Height != 150 {
		t.Errorf("got %dx%d, want 200x150", dims.Width, dims.Height)
	}
}

func TestHandleToolsCall_Crop(t *testing.T) {
	s := newTestServer()
	imgPath := createTestImageFile(t, 100, 100, color.RGBA{0, 0, 255, 255})

	tests := []struct {
		name          string
		scale         float64
		width, height int
	}{
		{"default scale", 0, 40, 30},
		{"doubled", 2, 80, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]interface{}{"path": imgPath, "x1": 10, "y1": 20, "x2": 50, "y2": 50}
			if tt.scale != 0 {
				args["scale"] = tt.scale
			}
			var enc struct {
				Width       int    `json:"width"`
				Height      int    `json:"height"`
				ImageBase64 string `json:"image_base64"`
			}
			decodeContent(t, callTool(t, s, "image_crop", args), &enc)
			if enc.Width != tt.width || enc.Height != tt.height {
				t.Errorf("got %dx%d, want %dx%d", enc.Width, enc.Height, tt.width, tt.height)
			}
			decodePNG(t, enc.ImageBase64, tt.width, tt.height)
		})
	}
}

func TestHandleToolsCall_NonExistentFile(t *testing.T) {
	s := newTestServer()
	resp := callTool(t, s, "image_load", map[string]interface{}{"path": "/nonexistent/image.png"})
	wantToolError(t, resp, -32000, "failed to open image")
}

func TestHandleToolsCall_InvalidTool(t *testing.T) {
	s := newTestServer()
	resp := callTool(t, s, "image_ocr_full", map[string]interface{}{})
	wantToolError(t, resp, -32000, "unknown tool")
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer()
	resp := s.handleToolsCall(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`{"name": 5}`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("expected -32602, got %+v", resp.Error)
	}
}

func TestHandleToolsCall_InvalidArguments(t *testing.T) {
	s := newTestServer()
	resp := callTool(t, s, "panorama_stitch", map[string]interface{}{"paths": "not-a-list"})
	wantToolError(t, resp, -32000, "invalid arguments")
}

func TestPanoramaStitch(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)

	var res StitchResult
	decodeContent(t, callTool(t, s, "panorama_stitch", map[string]interface{}{
		"paths": []string{pathA, pathB},
	}), &res)

	if res.Status != statusOK {
		t.Fatalf("status: got %q, want ok", res.Status)
	}
	if res.Width < 349 || res.Width > 355 || res.Height < 197 || res.Height > 203 {
		t.Errorf("panorama size: got %dx%d, want about 352x200", res.Width, res.Height)
	}
	if len(res.Placements) != 2 || res.Placements[0].Path != pathA || res.Placements[1].Path != pathB {
		t.Fatalf("placements: %+v", res.Placements)
	}
	for _, p := range res.Placements {
		if p.Keypoints == 0 {
			t.Errorf("%s: no keypoints reported", p.Path)
		}
	}
	if len(res.Pairs) != 1 || res.Pairs[0].A != 0 || res.Pairs[0].B != 1 {
		t.Errorf("pairs: %+v", res.Pairs)
	}
	if res.Panorama == nil {
		t.Fatal("panorama should be returned inline")
	}
	decodePNG(t, res.Panorama.ImageBase64, res.Width, res.Height)

	// The second crop starts 128 pixels into the scene.
	h := res.Placements[1].Homography
	h0 := res.Placements[0].Homography
	dx := h[2]/h[8] - h0[2]/h0[8]
	if dx < 125 || dx > 131 {
		t.Errorf("relative x offset: got %.2f, want about 128", dx)
	}
}

func TestPanoramaStitch_OutputPath(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)
	out := filepath.Join(t.TempDir(), "result", "pano.png")

	var res StitchResult
	decodeContent(t, callTool(t, s, "panorama_stitch", map[string]interface{}{
		"paths":       []string{pathA, pathB},
		"family":      "binary",
		"output_path": out,
	}), &res)

	if res.Status != statusOK {
		t.Fatalf("status: got %q, want ok", res.Status)
	}
	if res.Panorama != nil {
		t.Error("panorama should not be inlined when written to a file")
	}
	if res.OutputPath != out {
		t.Errorf("output_path: got %q, want %q", res.OutputPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("panorama file not written: %v", err)
	}
}

func TestPanoramaStitch_Failures(t *testing.T) {
	red := createTestImageFile(t, 160, 120, color.RGBA{200, 30, 30, 255})
	blue := createTestImageFile(t, 160, 120, color.RGBA{20, 40, 220, 255})

	tests := []struct {
		name   string
		args   map[string]interface{}
		status []string
		image  bool
	}{
		{
			name:   "single image",
			args:   map[string]interface{}{"paths": []string{red}},
			status: []string{"InsufficientImages"},
		},
		{
			name:   "featureless images",
			args:   map[string]interface{}{"paths": []string{red, blue}},
			status: []string{"HomographyEstimationFailed", "DisconnectedImageSet"},
		},
		{
			name:   "minimum keypoints",
			args:   map[string]interface{}{"paths": []string{red, blue}, "min_keypoints": 5},
			status: []string{"InsufficientFeatures"},
			image:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			var res FailureResult
			decodeContent(t, callTool(t, s, "panorama_stitch", tt.args), &res)

			ok := false
			for _, st := range tt.status {
				ok = ok || res.Status == st
			}
			if !ok {
				t.Errorf("status: got %q, want one of %v", res.Status, tt.status)
			}
			if !strings.HasPrefix(res.Message, res.Status) {
				t.Errorf("message %q should start with the status", res.Message)
			}
			if tt.image && (res.Image == nil || *res.Image != 0) {
				t.Errorf("image: got %v, want 0", res.Image)
			}
		})
	}
}

func TestPanoramaStitch_InvalidOverrides(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"unknown family", map[string]interface{}{"paths": []string{pathA, pathB}, "family": "surf"}, "unknown feature family"},
		{"min inliers", map[string]interface{}{"paths": []string{pathA, pathB}, "min_inliers": 3}, "invalid stitch config"},
		{"missing file", map[string]interface{}{"paths": []string{pathA, "/nonexistent.png"}}, "/nonexistent.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantToolError(t, callTool(t, s, "panorama_stitch", tt.args), -32000, tt.want)
		})
	}
}

func TestPanoramaVisualize(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)

	var res VisualizeResult
	decodeContent(t, callTool(t, s, "panorama_visualize", map[string]interface{}{
		"path_a": pathA,
		"path_b": pathB,
		"top_k":  5,
	}), &res)

	if res.Status != statusOK {
		t.Fatalf("status: got %q", res.Status)
	}
	if res.KeypointsA == 0 || res.KeypointsB == 0 {
		t.Errorf("keypoints: %d, %d", res.KeypointsA, res.KeypointsB)
	}
	if res.MatchCount < 5 || len(res.Drawn) != 5 {
		t.Fatalf("matches: %d found, %d drawn", res.MatchCount, len(res.Drawn))
	}
	// The crops are offset horizontally by 128 pixels; most of the best
	// matches should agree with that.
	agree := 0
	for _, m := range res.Drawn {
		if dx := m.AX - m.BX; dx > 124 && dx < 132 {
			agree++
		}
	}
	if agree < 3 {
		t.Errorf("only %d of %d drawn matches agree with the crop offset", agree, len(res.Drawn))
	}
	decodePNG(t, res.ImageA.ImageBase64, 224, 200)
	decodePNG(t, res.ImageB.ImageBase64, 224, 200)
	decodePNG(t, res.Matches.ImageBase64, 448, 200)
}

func TestPanoramaVisualize_NoFeatures(t *testing.T) {
	s := newTestServer()
	white := createTestImageFile(t, 120, 90, color.White)
	black := createTestImageFile(t, 120, 90, color.Black)

	var res FailureResult
	decodeContent(t, callTool(t, s, "panorama_visualize", map[string]interface{}{
		"path_a": white,
		"path_b": black,
	}), &res)

	if res.Status != "InsufficientFeatures" {
		t.Errorf("status: got %q, want InsufficientFeatures", res.Status)
	}
}

func TestPanoramaVisualize_NegativeTopK(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)
	resp := callTool(t, s, "panorama_visualize", map[string]interface{}{
		"path_a": pathA,
		"path_b": pathB,
		"top_k":  -1,
	})
	wantToolError(t, resp, -32000, "top-k")
}

func TestPanoramaFeatures(t *testing.T) {
	s := newTestServer()
	textured := writeImageFile(t, testutil.Scene(200, 150, 5))
	flat := createTestImageFile(t, 200, 150, color.Gray{Y: 128})

	var res FeaturesResult
	decodeContent(t, callTool(t, s, "panorama_features", map[string]interface{}{
		"paths":        []string{textured, flat},
		"family":       "binary",
		"max_features": 50,
	}), &res)

	if res.Family != "binary" {
		t.Errorf("family: got %q", res.Family)
	}
	if len(res.Images) != 2 {
		t.Fatalf("images: got %d, want 2", len(res.Images))
	}

	tex := res.Images[0]
	if tex.Keypoints == 0 || tex.Keypoints > 50 {
		t.Errorf("textured keypoints: got %d, want 1..50", tex.Keypoints)
	}
	if len(tex.Strongest) != strongestReported {
		t.Errorf("strongest: got %d, want %d", len(tex.Strongest), strongestReported)
	}
	for i := 1; i < len(tex.Strongest); i++ {
		if tex.Strongest[i].Response > tex.Strongest[i-1].Response {
			t.Errorf("strongest keypoints not ordered at %d", i)
		}
	}
	if tex.Annotated == nil {
		t.Fatal("annotated image missing")
	}
	decodePNG(t, tex.Annotated.ImageBase64, 200, 150)

	if res.Images[1].Keypoints != 0 || len(res.Images[1].Strongest) != 0 {
		t.Errorf("flat image: %+v", res.Images[1])
	}
}

func TestPanoramaFeatures_NoAnnotation(t *testing.T) {
	s := newTestServer()
	textured := writeImageFile(t, testutil.Scene(120, 100, 6))

	var res FeaturesResult
	decodeContent(t, callTool(t, s, "panorama_features", map[string]interface{}{
		"paths":    []string{textured},
		"annotate": false,
	}), &res)

	if res.Images[0].Annotated != nil {
		t.Error("annotation was not requested")
	}
}

func TestPanoramaFeatures_NoPaths(t *testing.T) {
	s := newTestServer()
	wantToolError(t, callTool(t, s, "panorama_features", map[string]interface{}{}), -32000, "at least one path")
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	s := newTestServer()
	_, err := s.executeTool(context.Background(), "nonexistent_tool", json.RawMessage(`{}`))
	if err == nil {
		t.Error("Expected error for unknown tool")
	}
}

func TestExecuteTool_Cancelled(t *testing.T) {
	s := newTestServer()
	pathA, pathB := overlappingFiles(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	args, _ := json.Marshal(map[string]interface{}{"paths": []string{pathA, pathB}})
	if _, err := s.executeTool(ctx, "panorama_stitch", args); err == nil {
		t.Error("cancelled stitch should be an error, not a result")
	}
}
