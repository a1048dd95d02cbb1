package detector

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/parkdet/internal/models"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
)

const (
	DefaultImageSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.7
	DefaultMaxDetections = 300

	// maxCandidates caps the boxes entering NMS.
	maxCandidates = 30000
	// padGray fills the letterbox border.
	padGray = 114
	// strideMultiple is the granularity YOLO input sizes must respect.
	strideMultiple = 32
)

// Config holds configuration for the object detector.
type Config struct {
	ModelPath        string               // Path to the ONNX weights
	NamesPath        string               // Optional YAML class names file, overrides model metadata
	ImageSize        int                  // Square inference resolution (default: 640)
	ConfThreshold    float32              // Minimum class score, exclusive (default: 0.25)
	IoUThreshold     float32              // NMS overlap threshold (default: 0.7)
	MaxDetections    int                  // Cap on boxes returned per image (default: 300)
	WarmupIterations int                  // Blank forward passes run by Warmup
	Execution        onnx.ExecutionConfig // CPU/GPU execution settings
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:     models.ResolveModelPath("", ""),
		ImageSize:     DefaultImageSize,
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
		MaxDetections: DefaultMaxDetections,
		Execution:     onnx.DefaultExecutionConfig(),
	}
}

// Validate checks the detector configuration.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.ImageSize <= 0 || c.ImageSize%strideMultiple != 0 {
		return fmt.Errorf("image size must be a positive multiple of %d, got %d", strideMultiple, c.ImageSize)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold >= 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1), got %v", c.ConfThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in (0, 1], got %v", c.IoUThreshold)
	}
	if c.MaxDetections <= 0 {
		return fmt.Errorf("max detections must be positive, got %d", c.MaxDetections)
	}
	if c.WarmupIterations < 0 {
		return fmt.Errorf("warmup iterations must be non-negative, got %d", c.WarmupIterations)
	}
	return c.Execution.Validate()
}
