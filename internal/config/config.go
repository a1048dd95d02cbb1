package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/models"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/server"
)

// Config is the complete configuration for the parkdet commands. It is loaded
// from a config file, PARKDET_* environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Detector  DetectorConfig  `mapstructure:"detector" yaml:"detector" json:"detector"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	GPU       GPUConfig       `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
	Occupancy OccupancyConfig `mapstructure:"occupancy" yaml:"occupancy" json:"occupancy"`
}

// DetectorConfig contains model and post-processing settings.
type DetectorConfig struct {
	ModelPath        string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	NamesPath        string  `mapstructure:"names_path" yaml:"names_path" json:"names_path"`
	ImageSize        int     `mapstructure:"image_size" yaml:"image_size" json:"image_size"`
	ConfThreshold    float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IoUThreshold     float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	MaxDetections    int     `mapstructure:"max_detections" yaml:"max_detections" json:"max_detections"`
	NumThreads       int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations int     `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// OccupancyConfig points at the parking layout used by the occupancy
// endpoints and the detect --layout output.
type OccupancyConfig struct {
	LayoutPath string `mapstructure:"layout_path" yaml:"layout_path" json:"layout_path"`
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	srv := server.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Detector: DetectorConfig{
			ImageSize:     detector.DefaultImageSize,
			ConfThreshold: detector.DefaultConfThreshold,
			IoUThreshold:  detector.DefaultIoUThreshold,
			MaxDetections: detector.DefaultMaxDetections,
		},
		Server: ServerConfig{
			Host:            srv.Host,
			Port:            srv.Port,
			CORSOrigin:      srv.CORSOrigin,
			MaxUploadMB:     int(srv.MaxUploadMB),
			TimeoutSec:      srv.TimeoutSec,
			ShutdownTimeout: 10,
			FetchTimeoutSec: srv.FetchTimeoutSec,
		},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	d := c.Detector
	if d.ImageSize <= 0 || d.ImageSize%32 != 0 {
		return fmt.Errorf("invalid detector.image_size: %d (must be a positive multiple of 32)", d.ImageSize)
	}
	if d.ConfThreshold < 0 || d.ConfThreshold >= 1 {
		return fmt.Errorf("invalid detector.conf_threshold: %.2f (must be in [0, 1))", d.ConfThreshold)
	}
	if d.IoUThreshold <= 0 || d.IoUThreshold > 1 {
		return fmt.Errorf("invalid detector.iou_threshold: %.2f (must be in (0, 1])", d.IoUThreshold)
	}
	if d.MaxDetections <= 0 {
		return fmt.Errorf("invalid detector.max_detections: %d (must be positive)", d.MaxDetections)
	}
	if d.NumThreads < 0 || d.WarmupIterations < 0 {
		return fmt.Errorf("detector.num_threads and detector.warmup_iterations must be non-negative")
	}

	s := c.Server
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", s.MaxUploadMB)
	}
	if s.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", s.TimeoutSec)
	}
	if s.FetchTimeoutSec <= 0 {
		return fmt.Errorf("invalid fetch timeout: %d (must be positive)", s.FetchTimeoutSec)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d", s.ShutdownTimeout)
	}

	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d", c.GPU.Device)
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

var memoryUnits = []struct {
	suffix string
	factor uint64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseMemoryLimit converts values like "512MB" or "2GB" to bytes. Empty and
// "auto" mean no limit and return 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	limit = strings.ToUpper(strings.TrimSpace(limit))
	if limit == "" || limit == "AUTO" {
		return 0, nil
	}

	for _, unit := range memoryUnits {
		if !strings.HasSuffix(limit, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(limit, unit.suffix))
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * float64(unit.factor)), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: GB, MB, KB, B")
}

// ToPipelineConfig converts the config to the pipeline configuration. The
// model path is resolved against models_dir when not set explicitly.
func (c *Config) ToPipelineConfig() pipeline.Config {
	det := detector.DefaultConfig()
	det.ModelPath = models.ResolveModelPath(c.ModelsDir, c.Detector.ModelPath)
	det.NamesPath = models.ResolveNamesPath(det.ModelPath, c.Detector.NamesPath)
	det.ImageSize = c.Detector.ImageSize
	det.ConfThreshold = float32(c.Detector.ConfThreshold)
	det.IoUThreshold = float32(c.Detector.IoUThreshold)
	det.MaxDetections = c.Detector.MaxDetections
	det.WarmupIterations = c.Detector.WarmupIterations
	det.Execution.NumThreads = c.Detector.NumThreads
	det.Execution.UseGPU = c.GPU.Enabled
	det.Execution.DeviceID = c.GPU.Device
	// Validate has already rejected malformed limits.
	det.Execution.GPUMemLimit, _ = ParseMemoryLimit(c.GPU.MemoryLimit)

	return pipeline.Config{
		ModelsDir:        models.ModelsDir(c.ModelsDir),
		Detector:         det,
		WarmupIterations: c.Detector.WarmupIterations,
	}
}

// ToServerConfig converts the config to the HTTP server configuration.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		CORSOrigin:      c.Server.CORSOrigin,
		MaxUploadMB:     int64(c.Server.MaxUploadMB),
		TimeoutSec:      c.Server.TimeoutSec,
		FetchTimeoutSec: c.Server.FetchTimeoutSec,
		PipelineConfig:  c.ToPipelineConfig(),
		LayoutPath:      c.Occupancy.LayoutPath,
	}
}
