package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/client"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/spf13/cobra"
)

// probeCmd smoke-tests a running server.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send test requests to a running detection server",
	Long: `Send one request per given input mode to a running parkdet server and
print the result.

Examples:
  parkdet probe --path /data/lot.jpg
  parkdet probe --file lot.jpg --server http://10.0.0.5:8000
  parkdet probe --url https://example.com/lot.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		imageURL, _ := cmd.Flags().GetString("url")
		imagePath, _ := cmd.Flags().GetString("path")
		uploadPath, _ := cmd.Flags().GetString("file")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c := client.New(serverURL, timeout)
		type probe struct {
			name  string
			input string
			call  func(context.Context, string) (results.Response, error)
		}
		probes := []probe{
			{"url", imageURL, c.PredictURL},
			{"path", imagePath, c.PredictPath},
			{"file", uploadPath, c.PredictFile},
		}

		out := cmd.OutOrStdout()
		ran, failed := 0, 0
		for _, p := range probes {
			if p.input == "" {
				continue
			}
			ran++
			_, _ = fmt.Fprintf(out, "--- /predict/%s %s\n", p.name, p.input)

			resp, err := p.call(cmd.Context(), p.input)
			if err != nil {
				failed++
				var apiErr *client.APIError
				if errors.As(err, &apiErr) {
					_, _ = fmt.Fprintf(out, "Error %d: %s\n", apiErr.StatusCode, apiErr.Detail)
				} else {
					_, _ = fmt.Fprintf(out, "Request failed: %v\n", err)
				}
				continue
			}
			if err := results.WriteJSON(out, resp); err != nil {
				return err
			}
		}

		if ran == 0 {
			return errors.New("nothing to probe: set at least one of --url, --path or --file")
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d probes failed", failed, ran)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().String("server", client.DefaultBaseURL, "base URL of the detection server")
	probeCmd.Flags().String("url", "", "image URL for /predict/url")
	probeCmd.Flags().String("path", "", "server-side image path for /predict/path")
	probeCmd.Flags().String("file", "", "local image to upload to /predict/file")
	probeCmd.Flags().Duration("timeout", 60*time.Second, "request timeout")
}
