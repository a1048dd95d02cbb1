package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/parkdet/internal/benchmark"
	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/spf13/cobra"
)

// benchCmd measures detection latency on one image.
var benchCmd = &cobra.Command{
	Use:   "bench <image>",
	Short: "Measure detection latency on an image",
	Long: `Load the model, run detection on the image repeatedly and report
latency percentiles and allocations per run.

Examples:
  parkdet bench lot.jpg
  parkdet bench lot.jpg --iterations 50 --gpu`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		iterations, _ := cmd.Flags().GetInt("iterations")
		warmup, _ := cmd.Flags().GetInt("bench-warmup")

		cfg := GetConfig()
		applyDetectorFlags(cmd.Flags(), cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		img, err := imageio.NewPathSource(args[0]).Acquire(cmd.Context())
		if err != nil {
			return err
		}

		p, err := pipeline.FromConfig(cfg.ToPipelineConfig()).Build()
		if err != nil {
			return fmt.Errorf("failed to create pipeline: %w", err)
		}
		defer func() {
			_ = p.Close()
			_ = onnx.Shutdown()
		}()

		info := p.ModelInfo()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Model: %s (input %v, gpu %v)\n", info.ModelPath, info.InputShape, info.GPU)
		_, _ = fmt.Fprintf(out, "Image: %s (%dx%d)\n", args[0], img.Bounds().Dx(), img.Bounds().Dy())

		res := benchmark.Detection("detect", p.Detector, img, iterations, warmup)
		_, _ = fmt.Fprintln(out, res.String())
		return res.Error
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 20, "measured detection runs")
	benchCmd.Flags().Int("bench-warmup", 2, "unmeasured runs before measuring")
	addDetectorFlags(benchCmd)
}
