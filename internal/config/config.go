// Package config loads the user-editable settings for the server and CLI.
//
// Settings live in a JSON file (default ~/.config/panorama-mcp/config.json,
// overridden by PANORAMA_MCP_CONFIG). A missing file is not an error: every
// field has a default, and fields absent from the file keep theirs. A few
// environment variables override the file; see ApplyEnv.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/stitch"
	"github.com/ironsheep/panorama-tools-mcp/internal/visualize"
)

// Environment variables read by Load.
const (
	PathEnv     = "PANORAMA_MCP_CONFIG"
	LogLevelEnv = "PANORAMA_MCP_LOG_LEVEL"
	FamilyEnv   = "PANORAMA_MCP_FAMILY"
	WorkersEnv  = "PANORAMA_MCP_WORKERS"
)

const defaultConfigPath = "~/.config/panorama-mcp/config.json"

// Config holds all settings.
type Config struct {
	Stitch    Stitch    `json:"stitch"`
	Visualize Visualize `json:"visualize"`
	Logging   Logging   `json:"logging"`
}

// Stitch mirrors stitch.Config with the family spelled as a name.
type Stitch struct {
	Family          string  `json:"family"` // gradient (sift) or binary (orb)
	ReprojThreshold float64 `json:"reproj_threshold"`
	MaxIterations   int     `json:"max_iterations"`
	MinInliers      int     `json:"min_inliers"`
	FeatherWidth    float64 `json:"feather_width"`
	MaxFeatures     int     `json:"max_features"`
	MinResponse     float64 `json:"min_response"` // 0 selects the family default
	MinKeypoints    int     `json:"min_keypoints"`
	Confidence      float64 `json:"confidence"`
	Seed            int64   `json:"seed"`
	AllPairsLimit   int     `json:"all_pairs_limit"`
	NeighborWindow  int     `json:"neighbor_window"`
	Workers         int     `json:"workers"` // 0 uses every CPU
	MaxCanvasPixels int     `json:"max_canvas_pixels"`
}

// Visualize configures the diagnostic views.
type Visualize struct {
	Family      string  `json:"family"`
	MaxFeatures int     `json:"max_features"`
	MinResponse float64 `json:"min_response"`
	LineWidth   float64 `json:"line_width"`
	MatchColor  string  `json:"match_color"` // empty gives one colour per match
	TopK        int     `json:"top_k"`
}

// Logging controls log verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Default returns the built-in settings.
func Default() *Config {
	s := stitch.DefaultConfig()
	v := visualize.DefaultConfig()
	return &Config{
		Stitch: Stitch{
			Family:          s.Family.String(),
			ReprojThreshold: s.ReprojThreshold,
			MaxIterations:   s.MaxIterations,
			MinInliers:      s.MinInliers,
			FeatherWidth:    s.FeatherWidth,
			MaxFeatures:     s.MaxFeatures,
			MinResponse:     s.MinResponse,
			MinKeypoints:    s.MinKeypoints,
			Confidence:      s.Confidence,
			Seed:            s.Seed,
			AllPairsLimit:   s.AllPairsLimit,
			NeighborWindow:  s.NeighborWindow,
			Workers:         s.Workers,
			MaxCanvasPixels: s.MaxCanvasPixels,
		},
		Visualize: Visualize{
			Family:      v.Family.String(),
			MaxFeatures: v.MaxFeatures,
			MinResponse: v.MinResponse,
			LineWidth:   v.LineWidth,
			MatchColor:  v.MatchColor,
			TopK:        visualize.DefaultTopK,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path, falling back to
// PANORAMA_MCP_CONFIG and then the default location when path is empty,
// and applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	f, err := os.Open(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No file at the default location: defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to open config: %w", err)
	default:
		defer f.Close()
		if err := Decode(f, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", expanded, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads JSON from r onto cfg. Fields absent from the input keep
// their current values; unknown fields are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Write encodes cfg as indented JSON.
func (c *Config) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// ApplyEnv overrides settings from the environment:
//
//	PANORAMA_MCP_LOG_LEVEL  logging.level
//	PANORAMA_MCP_FAMILY     stitch.family and visualize.family
//	PANORAMA_MCP_WORKERS    stitch.workers
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(LogLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(FamilyEnv); v != "" {
		c.Stitch.Family = v
		c.Visualize.Family = v
	}
	if v := os.Getenv(WorkersEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", WorkersEnv, err)
		}
		c.Stitch.Workers = n
	}
	return nil
}

// Validate checks that every section converts to a usable configuration.
func (c *Config) Validate() error {
	sc, err := c.StitchConfig()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}
	if _, err := c.VisualizeConfig(); err != nil {
		return err
	}
	if c.Visualize.TopK < 0 {
		return fmt.Errorf("visualize: top_k must not be negative, got %d", c.Visualize.TopK)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// StitchConfig converts the stitch section.
func (c *Config) StitchConfig() (stitch.Config, error) {
	family, err := features.ParseFamily(c.Stitch.Family)
	if err != nil {
		return stitch.Config{}, fmt.Errorf("stitch: %w", err)
	}
	s := c.Stitch
	return stitch.Config{
		Family:          family,
		ReprojThreshold: s.ReprojThreshold,
		MaxIterations:   s.MaxIterations,
		MinInliers:      s.MinInliers,
		FeatherWidth:    s.FeatherWidth,
		MaxFeatures:     s.MaxFeatures,
		MinResponse:     s.MinResponse,
		MinKeypoints:    s.MinKeypoints,
		Confidence:      s.Confidence,
		Seed:            s.Seed,
		AllPairsLimit:   s.AllPairsLimit,
		NeighborWindow:  s.NeighborWindow,
		Workers:         s.Workers,
		MaxCanvasPixels: s.MaxCanvasPixels,
	}, nil
}

// VisualizeConfig converts the visualize section.
func (c *Config) VisualizeConfig() (visualize.Config, error) {
	family, err := features.ParseFamily(c.Visualize.Family)
	if err != nil {
		return visualize.Config{}, fmt.Errorf("visualize: %w", err)
	}
	return visualize.Config{
		Family:      family,
		MaxFeatures: c.Visualize.MaxFeatures,
		MinResponse: c.Visualize.MinResponse,
		LineWidth:   c.Visualize.LineWidth,
		MatchColor:  c.Visualize.MatchColor,
	}, nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
