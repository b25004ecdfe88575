package main

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ironsheep/panorama-tools-mcp/internal/config"
	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/imaging"
	"github.com/ironsheep/panorama-tools-mcp/internal/logging"
	"github.com/ironsheep/panorama-tools-mcp/internal/server"
	"github.com/ironsheep/panorama-tools-mcp/internal/stitch"
	"github.com/ironsheep/panorama-tools-mcp/internal/visualize"
)

// app carries the state shared by every command once the persistent flags
// have been parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
	cache  *imaging.ImageCache
}

// setup loads the configuration and installs the logger. Flags override
// the environment, which overrides the file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.cache = imaging.NewImageCache()

	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
		a.logger = logging.New(cmd.ErrOrStderr(), a.logLevel, cfg.Logging.Format)
		slog.SetDefault(a.logger)
		return nil
	}
	a.logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "panorama-mcp",
		Short: "MCP server and command line tools for panorama stitching",
		Long: `panorama-mcp stitches overlapping photographs into a single panorama.

Run without a subcommand it serves the MCP protocol over stdin/stdout;
configure it in your MCP client. The subcommands run the same pipeline
from the shell.

Environment variables:
  PANORAMA_MCP_CONFIG      configuration file (default ~/.config/panorama-mcp/config.json)
  PANORAMA_MCP_LOG_LEVEL   debug, info, warn or error
  PANORAMA_MCP_FAMILY      feature family: gradient or binary
  PANORAMA_MCP_WORKERS     worker goroutines (0 uses every CPU)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newStitchCmd(a))
	rootCmd.AddCommand(newVisualizeCmd(a))
	rootCmd.AddCommand(newFeaturesCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	sc, err := a.cfg.StitchConfig()
	if err != nil {
		return err
	}
	vc, err := a.cfg.VisualizeConfig()
	if err != nil {
		return err
	}

	a.logger.Debug("starting MCP server", "version", Version, "build_time", BuildTime, "commit", GitCommit)
	srv := server.New(
		server.WithLogger(a.logger),
		server.WithVersion(Version),
		server.WithStitchConfig(sc),
		server.WithVisualizeConfig(vc, a.cfg.Visualize.TopK),
	)
	return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}

func newStitchCmd(a *app) *cobra.Command {
	var (
		output          string
		family          string
		reprojThreshold float64
		minInliers      int
		featherWidth    float64
		minKeypoints    int
		seed            int64
		workers         int
	)

	cmd := &cobra.Command{
		Use:   "stitch <image> <image>... [flags]",
		Short: "Stitch overlapping images into a panorama",
		Long: `Stitch two or more overlapping photographs into one panorama.

When the images cannot be stitched the command fails with the reason:
InsufficientImages, InsufficientFeatures, HomographyEstimationFailed,
DisconnectedImageSet or DegenerateTransform.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := a.cfg.StitchConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("family") {
				if sc.Family, err = features.ParseFamily(family); err != nil {
					return err
				}
			}
			if flags.Changed("reproj-threshold") {
				sc.ReprojThreshold = reprojThreshold
			}
			if flags.Changed("min-inliers") {
				sc.MinInliers = minInliers
			}
			if flags.Changed("feather") {
				sc.FeatherWidth = featherWidth
			}
			if flags.Changed("min-keypoints") {
				sc.MinKeypoints = minKeypoints
			}
			if flags.Changed("seed") {
				sc.Seed = seed
			}
			if flags.Changed("workers") {
				sc.Workers = workers
			}

			st, err := stitch.New(sc, stitch.WithLogger(a.logger))
			if err != nil {
				return err
			}
			images, err := a.cache.LoadAll(args)
			if err != nil {
				return err
			}
			res, err := st.Stitch(cmd.Context(), images)
			if err != nil {
				return err
			}
			if err := imaging.Save(res.Panorama, output); err != nil {
				return err
			}

			b := res.Panorama.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d, anchor %s\n", output, b.Dx(), b.Dy(), args[res.Anchor])
			for _, p := range res.Pairs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s <-> %s: %d matches, %d inliers, rmse %.2f\n",
					filepath.Base(args[p.A]), filepath.Base(args[p.B]), p.Matches, p.Inliers, p.RMSE)
			}
			return nil
		},
	}

	def := stitch.DefaultConfig()
	cmd.Flags().StringVarP(&output, "output", "o", "panorama.png", "output image; the format follows the extension")
	cmd.Flags().StringVar(&family, "family", def.Family.String(), "feature family (gradient|binary)")
	cmd.Flags().Float64Var(&reprojThreshold, "reproj-threshold", def.ReprojThreshold, "RANSAC inlier threshold in pixels")
	cmd.Flags().IntVar(&minInliers, "min-inliers", def.MinInliers, "inliers a pair needs to be accepted")
	cmd.Flags().Float64Var(&featherWidth, "feather", def.FeatherWidth, "seam blending width in pixels (0 averages overlaps)")
	cmd.Flags().IntVar(&minKeypoints, "min-keypoints", def.MinKeypoints, "fail when an image has fewer keypoints (0 disables)")
	cmd.Flags().Int64Var(&seed, "seed", def.Seed, "RANSAC random seed")
	cmd.Flags().IntVar(&workers, "workers", def.Workers, "worker goroutines (0 uses every CPU)")

	return cmd
}

func newVisualizeCmd(a *app) *cobra.Command {
	var (
		prefix     string
		family     string
		topK       int
		matchColor string
	)

	cmd := &cobra.Command{
		Use:   "visualize <image_a> <image_b> [flags]",
		Short: "Draw the keypoints and best matches of an image pair",
		Long: `Write three diagnostic images for a pair:
  <prefix>_a.png        image A with its keypoints
  <prefix>_b.png        image B with its keypoints
  <prefix>_matches.png  A and B side by side with the top-k matches joined`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := a.cfg.VisualizeConfig()
			if err != nil {
				return err
			}
			k := a.cfg.Visualize.TopK
			flags := cmd.Flags()
			if flags.Changed("family") {
				if vc.Family, err = features.ParseFamily(family); err != nil {
					return err
				}
			}
			if flags.Changed("top-k") {
				k = topK
			}
			if flags.Changed("match-color") {
				vc.MatchColor = matchColor
			}

			images, err := a.cache.LoadAll(args)
			if err != nil {
				return err
			}
			vis, err := visualize.VisualizeAndMatch(cmd.Context(), images[0], images[1], vc, k)
			if err != nil {
				return err
			}

			outputs := []struct {
				suffix string
				img    image.Image
			}{
				{"_a.png", vis.KeypointsA},
				{"_b.png", vis.KeypointsB},
				{"_matches.png", vis.Matches},
			}
			for _, o := range outputs {
				if err := imaging.Save(o.img, prefix+o.suffix); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keypoints: %d / %d, matches: %d, drawn: %d\n",
				vis.SetA.Len(), vis.SetB.Len(), vis.MatchCount, len(vis.Drawn))
			return nil
		},
	}

	cmd.Flags().StringVarP(&prefix, "output", "o", "visualize", "output file prefix")
	cmd.Flags().StringVar(&family, "family", features.FamilyGradient.String(), "feature family (gradient|binary)")
	cmd.Flags().IntVar(&topK, "top-k", visualize.DefaultTopK, "number of best matches to draw")
	cmd.Flags().StringVar(&matchColor, "match-color", "", "hex colour for every match line (default one colour per match)")

	return cmd
}

func newFeaturesCmd(a *app) *cobra.Command {
	var (
		outDir      string
		family      string
		maxFeatures int
	)

	cmd := &cobra.Command{
		Use:   "features <image>... [flags]",
		Short: "Count keypoints per image, optionally writing annotated copies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := a.cfg.VisualizeConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("family") {
				if vc.Family, err = features.ParseFamily(family); err != nil {
					return err
				}
			}
			opts := features.DefaultOptions(vc.Family)
			opts.MaxFeatures = vc.MaxFeatures
			if flags.Changed("max-features") {
				opts.MaxFeatures = maxFeatures
			}
			ext, err := features.New(vc.Family, opts)
			if err != nil {
				return err
			}

			images, err := a.cache.LoadAll(args)
			if err != nil {
				return err
			}
			sets, err := features.ExtractAll(cmd.Context(), ext, images, a.cfg.Stitch.Workers)
			if err != nil {
				return err
			}

			for i, set := range sets {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keypoints\n", args[i], set.Len())
				if outDir == "" {
					continue
				}
				name := strings.TrimSuffix(filepath.Base(args[i]), filepath.Ext(args[i])) + "_keypoints.png"
				out := visualize.DrawKeypoints(images[i], set.Keypoints, vc.LineWidth)
				if err := imaging.Save(out, filepath.Join(outDir, name)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for annotated images (none when empty)")
	cmd.Flags().StringVar(&family, "family", features.FamilyGradient.String(), "feature family (gradient|binary)")
	cmd.Flags().IntVar(&maxFeatures, "max-features", features.DefaultMaxFeatures, "keypoint cap per image (0 is unlimited)")

	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate the effective configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cfg.Write(cmd.OutOrStdout())
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// setup has already loaded and validated it.
			a.logger.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// Printing the version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "panorama-mcp %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build time: %s\n", BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", GitCommit)
		},
	}
}

