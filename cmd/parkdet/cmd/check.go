package cmd

import (
	"fmt"
	"os"

	"github.com/MeKo-Tech/parkdet/internal/models"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/spf13/cobra"
)

// checkCmd verifies the ONNX Runtime installation and the model file.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime setup and model availability",
	Long: `Check that the ONNX Runtime shared library can be loaded and that the
configured model file exists.

The library is searched in $` + onnx.EnvLibraryPath + ` first, then in the usual
system locations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		useGPU, _ := cmd.Flags().GetBool("gpu")
		out := cmd.OutOrStdout()

		_, _ = fmt.Fprintln(out, "ONNX Runtime library candidates:")
		for _, p := range onnx.LibraryCandidates(useGPU) {
			mark := "missing"
			if _, err := os.Stat(p); err == nil {
				mark = "found"
			}
			_, _ = fmt.Fprintf(out, "  %-8s %s\n", mark, p)
		}

		var failed bool
		if err := onnx.Initialize(useGPU); err != nil {
			_, _ = fmt.Fprintf(out, "ONNX Runtime: FAILED (%v)\n", err)
			failed = true
		} else {
			_, _ = fmt.Fprintln(out, "ONNX Runtime: ok")
			_ = onnx.Shutdown()
		}

		modelPath := models.ResolveModelPath(cfg.ModelsDir, cfg.Detector.ModelPath)
		if err := models.ValidateModelExists(modelPath); err != nil {
			_, _ = fmt.Fprintf(out, "Model: FAILED (%v)\n", err)
			failed = true
		} else {
			_, _ = fmt.Fprintf(out, "Model: ok (%s)\n", modelPath)
		}

		if failed {
			return fmt.Errorf("setup check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("gpu", false, "check the GPU runtime build")
}
