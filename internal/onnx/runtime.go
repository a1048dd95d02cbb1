// Package onnx wraps ONNX Runtime environment setup and session options.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the shared library lookup.
const EnvLibraryPath = "PARKDET_ONNXRUNTIME_LIB"

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// ExecutionConfig selects the execution provider and threading for a session.
type ExecutionConfig struct {
	UseGPU      bool   // Append the CUDA execution provider
	DeviceID    int    // CUDA device ordinal
	GPUMemLimit uint64 // Bytes, 0 means unlimited
	NumThreads  int    // Intra-op threads, 0 lets the runtime decide
}

// DefaultExecutionConfig returns a CPU-only configuration.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{}
}

// Validate checks the execution settings.
func (c ExecutionConfig) Validate() error {
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be non-negative, got %d", c.NumThreads)
	}
	return nil
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LibraryCandidates lists the shared library locations tried, in order.
func LibraryCandidates(useGPU bool) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	name, err := libraryName()
	if err != nil {
		return paths
	}
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)
	if useGPU {
		paths = append(paths, filepath.Join("onnxruntime", "gpu", "lib", name))
	}
	return append(paths, filepath.Join("onnxruntime", "lib", name))
}

// SetLibraryPath points onnxruntime_go at the first library that exists.
func SetLibraryPath(useGPU bool) error {
	for _, p := range LibraryCandidates(useGPU) {
		if _, err := os.Stat(p); err == nil {
			ort.SetSharedLibraryPath(p)
			slog.Debug("Using ONNX Runtime library", "path", p)
			return nil
		}
	}
	return errors.New("ONNX Runtime library not found (set " + EnvLibraryPath + ")")
}

// Initialize loads the shared library and creates the process-wide environment.
// It is a no-op when the environment already exists.
func Initialize(useGPU bool) error {
	if ort.IsInitialized() {
		return nil
	}
	if err := SetLibraryPath(useGPU); err != nil {
		return err
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// Shutdown destroys the environment. Call once at process exit.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// NewSessionOptions builds session options for cfg. The caller owns the result.
func NewSessionOptions(cfg ExecutionConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if cfg.UseGPU {
		if err := appendCUDA(opts, cfg); err != nil {
			_ = opts.Destroy()
			return nil, err
		}
	}
	return opts, nil
}

func appendCUDA(opts *ort.SessionOptions, cfg ExecutionConfig) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cuda.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	settings := map[string]string{
		"device_id":                 strconv.Itoa(cfg.DeviceID),
		"arena_extend_strategy":     "kNextPowerOfTwo",
		"cudnn_conv_algo_search":    "DEFAULT",
		"do_copy_in_default_stream": "1",
	}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}
	if err := cuda.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
