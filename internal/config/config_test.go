package config

import (
	"testing"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 640, cfg.Detector.ImageSize)
	assert.InDelta(t, 0.25, cfg.Detector.ConfThreshold, 1e-6)
	assert.InDelta(t, 0.7, cfg.Detector.IoUThreshold, 1e-6)
	assert.Equal(t, "auto", cfg.GPU.MemoryLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"image size not multiple of 32", func(c *Config) { c.Detector.ImageSize = 600 }, "image_size"},
		{"conf threshold one", func(c *Config) { c.Detector.ConfThreshold = 1 }, "conf_threshold"},
		{"iou threshold zero", func(c *Config) { c.Detector.IoUThreshold = 0 }, "iou_threshold"},
		{"max detections zero", func(c *Config) { c.Detector.MaxDetections = 0 }, "max_detections"},
		{"negative warmup", func(c *Config) { c.Detector.WarmupIterations = -1 }, "non-negative"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload size"},
		{"zero timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"zero fetch timeout", func(c *Config) { c.Server.FetchTimeoutSec = 0 }, "fetch timeout"},
		{"negative gpu device", func(c *Config) { c.GPU.Device = -1 }, "GPU device"},
		{"bad memory limit", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "GPU memory limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"512MB", 512 << 20, false},
		{"2GB", 2 << 30, false},
		{"1.5gb", 3 << 29, false},
		{"64KB", 64 << 10, false},
		{"100B", 100, false},
		{"12", 0, true},
		{"xGB", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.ModelPath = "/srv/models/lot.onnx"
	cfg.Detector.NamesPath = "/srv/models/lot.yaml"
	cfg.Detector.ConfThreshold = 0.4
	cfg.Detector.NumThreads = 2
	cfg.Detector.WarmupIterations = 3
	cfg.GPU = GPUConfig{Enabled: true, Device: 1, MemoryLimit: "1GB"}

	pc := cfg.ToPipelineConfig()
	assert.Equal(t, "/srv/models/lot.onnx", pc.Detector.ModelPath)
	assert.Equal(t, "/srv/models/lot.yaml", pc.Detector.NamesPath)
	assert.InDelta(t, 0.4, pc.Detector.ConfThreshold, 1e-6)
	assert.Equal(t, detector.DefaultMaxDetections, pc.Detector.MaxDetections)
	assert.Equal(t, 3, pc.WarmupIterations)
	assert.Equal(t, 2, pc.Detector.Execution.NumThreads)
	assert.True(t, pc.Detector.Execution.UseGPU)
	assert.Equal(t, 1, pc.Detector.Execution.DeviceID)
	assert.Equal(t, uint64(1<<30), pc.Detector.Execution.GPUMemLimit)
}

func TestToPipelineConfig_ModelFromModelsDir(t *testing.T) {
	t.Setenv("PARKDET_MODEL_PATH", "")
	cfg := DefaultConfig()
	cfg.ModelsDir = "/opt/parkdet/models"

	pc := cfg.ToPipelineConfig()
	assert.Equal(t, "/opt/parkdet/models/best.onnx", pc.Detector.ModelPath)
	assert.Empty(t, pc.Detector.NamesPath)
}

func TestToServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9100
	cfg.Server.MaxUploadMB = 5
	cfg.Server.CORSOrigin = "https://lot.example"
	cfg.Occupancy.LayoutPath = "/etc/parkdet/lot.yaml"

	sc := cfg.ToServerConfig()
	assert.Equal(t, 9100, sc.Port)
	assert.Equal(t, int64(5), sc.MaxUploadMB)
	assert.Equal(t, "https://lot.example", sc.CORSOrigin)
	assert.Equal(t, 15, sc.FetchTimeoutSec)
	assert.NotEmpty(t, sc.PipelineConfig.Detector.ModelPath)
	assert.Equal(t, "/etc/parkdet/lot.yaml", sc.LayoutPath)
}
