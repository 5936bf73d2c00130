package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"ctsegment/internal/models"
	"ctsegment/pkg/config"
	"ctsegment/pkg/logging"
	"ctsegment/pkg/metrics"
	"ctsegment/pkg/segmentation"
	"ctsegment/pkg/session"
	"ctsegment/pkg/visualization"
	"ctsegment/pkg/volumeio"
)

var (
	configPath string
	numCores   int
	logLevel   string

	volumePath string
	roiFlag    string
	threshFlag string
	scriptPath string
	outputDir  string

	rootCmd = &cobra.Command{
		Use:   "ctsegment",
		Short: "Threshold segmentation and manual correction of CT volumes",
		Long: `ctsegment segments structures in a CT volume by thresholding a region
of interest, keeping its largest connected components and smoothing the
result. Edits, region growing and mask compositing can be replayed from a
script.`,
		SilenceUsage: true,
	}

	initConfigCmd = &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", args[0])
			return nil
		},
	}

	segmentCmd = &cobra.Command{
		Use:   "segment",
		Short: "Run one segmentation pass and write the mask",
		RunE:  runSegment,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Replay a script of session steps and write the combined labels",
		RunE:  runScript,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().IntVar(&numCores, "cores", 0, "Number of CPU cores to use (default: from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	segmentCmd.Flags().StringVar(&volumePath, "volume", "", "Volume header (.yaml) to segment")
	segmentCmd.Flags().StringVar(&roiFlag, "roi", "", "Region of interest as x0,x1,y0,y1,z0,z1 (default: whole volume)")
	segmentCmd.Flags().StringVar(&threshFlag, "threshold", "", "Intensity range as lower,upper")
	segmentCmd.Flags().StringVar(&outputDir, "out", "ctsegment_out", "Output directory")
	_ = segmentCmd.MarkFlagRequired("volume")
	_ = segmentCmd.MarkFlagRequired("threshold")

	runCmd.Flags().StringVar(&volumePath, "volume", "", "Volume header (.yaml) to load")
	runCmd.Flags().StringVar(&scriptPath, "script", "", "YAML script of session steps")
	runCmd.Flags().StringVar(&outputDir, "out", "ctsegment_out", "Output directory")
	_ = runCmd.MarkFlagRequired("volume")
	_ = runCmd.MarkFlagRequired("script")

	rootCmd.AddCommand(initConfigCmd, segmentCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// environment bundles what every processing command needs
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	session  *session.Session
}

// setup loads configuration, applies environment and flag overrides and
// creates a session with the volume at volumePath loaded
func setup() (*environment, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if numCores > 0 {
		cfg.Processing.NumCores = numCores
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "ctsegment",
	})

	reg := prometheus.NewRegistry()
	sess, err := session.New(cfg, logger, metrics.New(reg))
	if err != nil {
		return nil, err
	}

	vol, meta, err := volumeio.ReadVolume(volumePath)
	if err != nil {
		return nil, fmt.Errorf("loading volume: %w", err)
	}
	if err := sess.Load(vol, meta); err != nil {
		return nil, err
	}

	return &environment{cfg: cfg, logger: logger, registry: reg, session: sess}, nil
}

func runSegment(cmd *cobra.Command, args []string) error {
	env, err := setup()
	if err != nil {
		return err
	}
	sess := env.session

	if roiFlag != "" {
		roi, err := parseROI(roiFlag)
		if err != nil {
			return err
		}
		if err := sess.SetROI(roi); err != nil {
			return err
		}
	}
	rng, err := parseRange(threshFlag)
	if err != nil {
		return err
	}
	if err := sess.SetThreshold(rng); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printBanner(env.cfg)
	startTime := time.Now()
	stats, err := sess.Segment(ctx)
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	processingTime := time.Since(startTime)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	_, meta := sess.Original()
	maskPath := filepath.Join(outputDir, "mask.yaml")
	if err := volumeio.WriteMask(maskPath, sess.Mask(), meta); err != nil {
		return err
	}

	if env.cfg.Output.Verbose {
		fmt.Printf("\nSegmentation completed in %.2f seconds\n", processingTime.Seconds())
		fmt.Printf("Mask saved to: %s\n\n", maskPath)
		printStepTimings(stats.Timings)
		fmt.Printf("\nThresholded voxels: %d\n", stats.ThresholdVoxels)
		fmt.Printf("Connected components: %d\n", stats.Components)
		fmt.Printf("Kept component sizes: %v (mean %.1f, std %.1f)\n",
			stats.SelectedSizes, stats.MeanSelectedSize, stats.StdSelectedSize)
		fmt.Printf("Mask voxels: %d\n", stats.MaskVoxels)
		if stats.Empty {
			fmt.Println("Warning: the region produced an empty mask")
		}
	}

	if env.cfg.Output.SaveSlices {
		return saveSlices(sess, env.cfg, outputDir)
	}
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	script, err := LoadScript(scriptPath)
	if err != nil {
		return err
	}
	env, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printBanner(env.cfg)
	startTime := time.Now()
	r := newRunner(env.session, env.logger, filepath.Dir(scriptPath))
	if err := r.Run(ctx, script); err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	labels, err := env.session.Combine()
	if err != nil {
		return err
	}
	_, meta := env.session.Original()
	labelsPath := filepath.Join(outputDir, "labels.yaml")
	if err := volumeio.WriteLabels(labelsPath, labels, meta); err != nil {
		return err
	}
	if err := r.WriteReport(filepath.Join(outputDir, "report.yaml")); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(filepath.Join(outputDir, "metrics.prom"), env.registry); err != nil {
		return err
	}

	if env.cfg.Output.Verbose {
		nonZero, peak := labels.Stats()
		fmt.Printf("\nScript completed in %.2f seconds (%d steps)\n", processingTime.Seconds(), len(script.Steps))
		fmt.Printf("Combined labels saved to: %s\n", labelsPath)
		fmt.Printf("Saved masks: %d\n", env.session.SavedCount())
		fmt.Printf("Labeled voxels: %d (peak value %d)\n", nonZero, peak)
	}

	if env.cfg.Output.SaveSlices {
		_, top := labels.Stats()
		width := float64(max(top, 1))
		viewer := visualization.NewViewer(labelsAsFloat(labels.Data), labels.Shape, width/2, width)
		for _, plane := range []models.Plane{models.Axial, models.Sagittal, models.Coronal} {
			dir := filepath.Join(outputDir, "labels_slices", plane.String())
			if err := viewer.SaveSliceSequence(plane, dir); err != nil {
				env.logger.Warn("failed to save label slices", "plane", plane.String(), "error", err)
			}
		}
	}
	return nil
}

func printBanner(cfg *config.Config) {
	if !cfg.Output.Verbose {
		return
	}
	fmt.Println("================================")
	fmt.Println("CT THRESHOLD SEGMENTATION")
	fmt.Println("================================")
	fmt.Printf("Cores: %d, morphology backend: %s\n", cfg.Processing.NumCores, cfg.Processing.Backend)
}

func printStepTimings(timings []segmentation.StepTiming) {
	fmt.Println("Pipeline steps:")
	for _, t := range timings {
		fmt.Printf("- %-14s %v\n", t.Step, t.Duration.Round(time.Microsecond))
	}
}

// saveSlices writes the overlay of the active segmentation along every plane
func saveSlices(sess *session.Session, cfg *config.Config, dir string) error {
	overlay := sess.Overlay()
	if overlay == nil {
		return models.ErrNoSegmentation
	}
	for _, plane := range []models.Plane{models.Axial, models.Sagittal, models.Coronal} {
		planeDir := filepath.Join(dir, "slices", plane.String())
		if err := os.MkdirAll(planeDir, 0755); err != nil {
			return err
		}
		fmt.Printf("Saving %s slices to: %s\n", plane, planeDir)
		for pos := 0; pos < overlay.Shape.Dim(plane.SliceAxis()); pos++ {
			img, err := visualization.OverlaySlice(overlay, plane, pos, cfg.Output.WindowLevel, cfg.Output.WindowWidth)
			if err != nil {
				return err
			}
			name := filepath.Join(planeDir, fmt.Sprintf("slice_%s_%03d.png", plane, pos))
			if err := visualization.SaveSlice(img, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func labelsAsFloat(data []int64) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// parseInts splits a comma separated list of n integers
func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated values, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseROI(s string) (models.ROI, error) {
	v, err := parseInts(s, 6)
	if err != nil {
		return models.ROI{}, fmt.Errorf("%w: %v", models.ErrInvalidROI, err)
	}
	return models.ROI{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3], ZMin: v[4], ZMax: v[5]}, nil
}

func parseRange(s string) (models.ThresholdRange, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.ThresholdRange{}, fmt.Errorf("%w: expected lower,upper, got %q", models.ErrInvalidThreshold, s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.ThresholdRange{}, fmt.Errorf("%w: %v", models.ErrInvalidThreshold, err)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.ThresholdRange{}, fmt.Errorf("%w: %v", models.ErrInvalidThreshold, err)
	}
	return models.ThresholdRange{Lower: lo, Upper: hi}, nil
}
