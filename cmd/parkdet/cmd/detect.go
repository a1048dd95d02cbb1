package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/parkdet/internal/batch"
	"github.com/MeKo-Tech/parkdet/internal/occupancy"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/spf13/cobra"
)

// detectCmd runs the detection pipeline on local image files.
var detectCmd = &cobra.Command{
	Use:   "detect <image|dir> [image|dir...]",
	Short: "Detect objects in local images",
	Long: `Run the detection pipeline on local image files or directories of
images and print the detections. A single image prints one JSON object;
several images print a JSON array of {path, detections} entries in input
order. With --layout, each result also lists the occupied and available
parking slots.

Examples:
  parkdet detect lot.jpg
  parkdet detect lot.jpg other.png --format text
  parkdet detect captures/ --recursive --workers 4
  parkdet detect lot.jpg --conf 0.5 --model models/best.onnx
  parkdet detect captures/ --layout layouts/north-lot.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "text" {
			return fmt.Errorf("invalid format %q (must be json or text)", format)
		}

		cfg := GetConfig()
		applyDetectorFlags(cmd.Flags(), cfg)
		err := cfg.Validate()
		if err != nil {
			return err
		}

		var layout *occupancy.Layout
		if cfg.Occupancy.LayoutPath != "" {
			if layout, err = occupancy.LoadLayout(cfg.Occupancy.LayoutPath); err != nil {
				return err
			}
		}

		p, err := pipeline.FromConfig(cfg.ToPipelineConfig()).Build()
		if err != nil {
			return fmt.Errorf("failed to create pipeline: %w", err)
		}
		defer func() {
			_ = p.Close()
			_ = onnx.Shutdown()
		}()

		recursive, _ := cmd.Flags().GetBool("recursive")
		workers, _ := cmd.Flags().GetInt("workers")
		files, err := batch.Discover(args, batch.DiscoverOptions{Recursive: recursive})
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return errors.New("no image files found")
		}

		res := batch.Process(cmd.Context(), p, files, workers)

		for _, it := range res.Items {
			if it.Err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", it.Path, it.Err)
			}
		}
		if err := writeResults(cmd.OutOrStdout(), format, collectResults(res.Items, layout)); err != nil {
			return err
		}
		slog.Debug("Detection finished", "images", len(files), "detections", res.Detections(),
			"duration_ms", res.Duration.Milliseconds())

		if failed := res.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(files))
		}
		return nil
	},
}

// imageResult is the output for one input image.
type imageResult struct {
	Path       string              `json:"path"`
	Detections []results.Detection `json:"detections"`
	Occupancy  *occupancy.Result   `json:"occupancy,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// collectResults converts batch items, evaluating occupancy when layout is set.
func collectResults(items []batch.Item, layout *occupancy.Layout) []imageResult {
	out := make([]imageResult, 0, len(items))
	for _, it := range items {
		r := imageResult{Path: it.Path, Detections: it.Response.Detections}
		if r.Detections == nil {
			r.Detections = []results.Detection{}
		}
		switch {
		case it.Err != nil:
			r.Error = it.Err.Error()
		case layout != nil:
			occ := layout.Evaluate(r.Detections)
			r.Occupancy = &occ
		}
		out = append(out, r)
	}
	return out
}

// writeResults prints results. A lone image keeps the API response shape;
// several images are written as one JSON array or as text sections headed by
// their path. Failed images only appear in the JSON array.
func writeResults(w io.Writer, format string, res []imageResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(res) == 1 {
			if res[0].Error != "" {
				return nil
			}
			return enc.Encode(singleResult{
				Response:  results.Response{Detections: res[0].Detections},
				Occupancy: res[0].Occupancy,
			})
		}
		return enc.Encode(res)
	}

	for _, r := range res {
		if r.Error != "" {
			continue
		}
		if len(res) > 1 {
			if _, err := fmt.Fprintf(w, "== %s ==\n", r.Path); err != nil {
				return err
			}
		}
		if err := results.WriteText(w, results.Response{Detections: r.Detections}); err != nil {
			return err
		}
		if r.Occupancy != nil {
			if err := writeOccupancyText(w, r.Occupancy); err != nil {
				return err
			}
		}
	}
	return nil
}

// singleResult is the JSON output of a one-image run.
type singleResult struct {
	results.Response
	Occupancy *occupancy.Result `json:"occupancy,omitempty"`
}

func writeOccupancyText(w io.Writer, occ *occupancy.Result) error {
	_, err := fmt.Fprintf(w, "Occupied (%d/%d): %s\nAvailable: %s\n",
		len(occ.Occupied), occ.Total, joinOrDash(occ.Occupied), joinOrDash(occ.Available))
	return err
}

func joinOrDash(labels []string) string {
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, ", ")
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringP("format", "f", "json", "output format: json or text")
	detectCmd.Flags().BoolP("recursive", "r", false, "scan directories recursively")
	detectCmd.Flags().IntP("workers", "w", 0, "images processed in parallel (default: number of CPUs)")
	addDetectorFlags(detectCmd)
}
