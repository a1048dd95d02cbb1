// Package pipeline wires image acquisition, detection and result shaping into
// one request flow shared by every input mode.
package pipeline

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/models"
)

// Detector is the model-facing dependency of a Pipeline.
type Detector interface {
	Detect(img image.Image) ([]detector.Detection, error)
	ClassNames() *detector.ClassNames
	ModelInfo() detector.ModelInfo
	Close() error
}

// Config holds configuration for the pipeline and its detector.
type Config struct {
	ModelsDir        string
	Detector         detector.Config
	WarmupIterations int // optional warmup runs to reduce first-request latency
}

// DefaultConfig returns a default pipeline config with detector defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.ModelsDir(""),
		Detector:  detector.DefaultConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg          Config
	explicitPath bool
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// FromConfig returns a builder seeded with cfg. A non-empty model path in cfg
// is treated as explicit.
func FromConfig(cfg Config) *Builder {
	b := NewBuilder().
		WithModelsDir(cfg.ModelsDir).
		WithNamesPath(cfg.Detector.NamesPath).
		WithImageSize(cfg.Detector.ImageSize).
		WithThresholds(cfg.Detector.ConfThreshold, cfg.Detector.IoUThreshold).
		WithMaxDetections(cfg.Detector.MaxDetections).
		WithThreads(cfg.Detector.Execution.NumThreads).
		WithWarmupIterations(cfg.WarmupIterations).
		WithGPU(cfg.Detector.Execution.UseGPU).
		WithGPUDevice(cfg.Detector.Execution.DeviceID).
		WithGPUMemoryLimit(cfg.Detector.Execution.GPUMemLimit)
	return b.WithModelPath(cfg.Detector.ModelPath)
}

// WithModelsDir sets the directory best.onnx is loaded from when no explicit
// model path is given.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithModelPath sets an explicit weights file.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
		b.explicitPath = true
	}
	return b
}

// WithNamesPath sets a YAML class names file overriding the model metadata.
func (b *Builder) WithNamesPath(path string) *Builder {
	b.cfg.Detector.NamesPath = path
	return b
}

// WithImageSize sets the square inference resolution.
func (b *Builder) WithImageSize(size int) *Builder {
	if size > 0 {
		b.cfg.Detector.ImageSize = size
	}
	return b
}

// WithThresholds sets the confidence and NMS IoU thresholds.
func (b *Builder) WithThresholds(conf, iou float32) *Builder {
	b.cfg.Detector.ConfThreshold = conf
	b.cfg.Detector.IoUThreshold = iou
	return b
}

// WithMaxDetections caps the detections returned per image.
func (b *Builder) WithMaxDetections(n int) *Builder {
	if n > 0 {
		b.cfg.Detector.MaxDetections = n
	}
	return b
}

// WithThreads sets intra-op threads for ONNX Runtime.
func (b *Builder) WithThreads(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.Execution.NumThreads = n
	}
	return b
}

// WithWarmupIterations sets warmup passes run after the model loads.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithGPU enables the CUDA execution provider.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.Execution.UseGPU = enabled
	return b
}

// WithGPUDevice selects the CUDA device.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.Execution.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit caps the CUDA arena in bytes, 0 for unlimited.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.Execution.GPUMemLimit = limitBytes
	return b
}

// Config returns the current configuration with model paths resolved.
func (b *Builder) Config() Config {
	cfg := b.cfg
	if !b.explicitPath {
		cfg.Detector.ModelPath = models.ResolveModelPath(cfg.ModelsDir, "")
	}
	cfg.Detector.NamesPath = models.ResolveNamesPath(cfg.Detector.ModelPath, cfg.Detector.NamesPath)
	return cfg
}

// Validate checks the resolved configuration.
func (b *Builder) Validate() error {
	cfg := b.Config()
	if cfg.WarmupIterations < 0 {
		return errors.New("warmup iterations must be non-negative")
	}
	if err := cfg.Detector.Validate(); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}
	return nil
}

// Build loads the model and returns a ready pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cfg := b.Config()

	det, err := detector.New(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}
	if cfg.WarmupIterations > 0 {
		if err := det.Warmup(cfg.WarmupIterations); err != nil {
			_ = det.Close()
			return nil, fmt.Errorf("detector warmup failed: %w", err)
		}
	}

	p := New(det)
	p.cfg = cfg
	return p, nil
}

// Pipeline runs one image at a time through acquisition, detection and formatting.
// It is safe for concurrent use when its Detector is.
type Pipeline struct {
	cfg      Config
	Detector Detector
}

// New wraps an already constructed detector.
func New(det Detector) *Pipeline {
	return &Pipeline{Detector: det}
}

// Config returns the configuration the pipeline was built with. It is the
// zero value for pipelines created with New.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// ModelInfo describes the loaded model.
func (p *Pipeline) ModelInfo() detector.ModelInfo {
	return p.Detector.ModelInfo()
}

// Close releases the detector.
func (p *Pipeline) Close() error {
	if p == nil || p.Detector == nil {
		return nil
	}
	return p.Detector.Close()
}
