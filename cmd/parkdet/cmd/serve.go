package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/config"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/MeKo-Tech/parkdet/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the detection API",
	Long: `Start an HTTP server exposing the detection pipeline.

Endpoints:
  GET  /health       - Health check
  GET  /model        - Loaded model, thresholds and class names
  POST /predict/url  - Detect objects in an image fetched from image_url
  POST /predict/path - Detect objects in an image at image_path on this host
  POST /predict/file - Detect objects in a multipart upload (field "file")
  POST /occupancy/url, /occupancy/path, /occupancy/file
                     - Same inputs, answered with occupied and available
                       parking slots of the --layout file
  GET  /ws/predict   - WebSocket variant of the predict endpoints
  GET  /metrics      - Prometheus metrics

Examples:
  parkdet serve
  parkdet serve --port 8000 --model models/best.onnx
  parkdet serve --host 0.0.0.0 --gpu
  parkdet serve --layout layouts/north-lot.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyServeFlags(cmd.Flags(), cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		serverConfig := cfg.ToServerConfig()
		slog.Info("Loading detection model",
			"model", serverConfig.PipelineConfig.Detector.ModelPath,
			"layout", serverConfig.LayoutPath,
			"gpu", cfg.GPU.Enabled)

		detServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = onnx.Shutdown() }()

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           detServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
		}

		go func() {
			slog.Info("Starting detection server", "host", cfg.Server.Host, "port", cfg.Server.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := detServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeFlags overrides config values with explicitly set flags.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("fetch-timeout") {
		cfg.Server.FetchTimeoutSec, _ = flags.GetInt("fetch-timeout")
	}
	applyDetectorFlags(flags, cfg)
}

// applyDetectorFlags overrides model settings shared by serve and detect.
func applyDetectorFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("model") {
		cfg.Detector.ModelPath, _ = flags.GetString("model")
	}
	if flags.Changed("names") {
		cfg.Detector.NamesPath, _ = flags.GetString("names")
	}
	if flags.Changed("conf") {
		cfg.Detector.ConfThreshold, _ = flags.GetFloat64("conf")
	}
	if flags.Changed("iou") {
		cfg.Detector.IoUThreshold, _ = flags.GetFloat64("iou")
	}
	if flags.Changed("warmup") {
		cfg.Detector.WarmupIterations, _ = flags.GetInt("warmup")
	}
	if flags.Changed("gpu") {
		cfg.GPU.Enabled, _ = flags.GetBool("gpu")
	}
	if flags.Changed("gpu-device") {
		cfg.GPU.Device, _ = flags.GetInt("gpu-device")
	}
	if flags.Changed("layout") {
		cfg.Occupancy.LayoutPath, _ = flags.GetString("layout")
	}
}

func addDetectorFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "override model path (default <models-dir>/best.onnx)")
	cmd.Flags().String("names", "", "YAML class names file overriding the model metadata")
	cmd.Flags().Float64("conf", 0.25, "confidence threshold, exclusive")
	cmd.Flags().Float64("iou", 0.7, "NMS IoU threshold")
	cmd.Flags().Int("warmup", 0, "warmup inference runs after loading the model")
	cmd.Flags().Bool("gpu", false, "use the CUDA execution provider")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ordinal")
	cmd.Flags().String("layout", "", "parking layout file (YAML or JSON) for slot occupancy")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins (comma-separated)")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum image payload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("fetch-timeout", 15, "timeout for fetching image_url in seconds")
	addDetectorFlags(serveCmd)
}
