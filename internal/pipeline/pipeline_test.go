package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/detector/detectortest"
	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/models"
	"github.com/MeKo-Tech/parkdet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Upload(t *testing.T) {
	fake := detectortest.New(map[int]string{0: "car", 1: "free"})
	fake.SetDetections(detector.Detection{X1: 1, Y1: 2, X2: 30, Y2: 40, Confidence: 0.9, ClassID: 1})
	p := New(fake)

	data := testutil.EncodePNG(t, testutil.SolidImage(64, 48, color.White))
	resp, stats, err := p.Run(context.Background(), imageio.NewStreamSource(bytes.NewReader(data), "a.png"))
	require.NoError(t, err)

	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "free", resp.Detections[0].ClassName)
	assert.Equal(t, imageio.ModeUpload, stats.Mode)
	assert.Equal(t, 64, stats.Width)
	assert.Equal(t, 48, stats.Height)
	assert.Equal(t, 1, stats.Detections)
	assert.Equal(t, 1, fake.Calls())
}

func TestRun_EmptyDetections(t *testing.T) {
	fake := detectortest.New(nil)
	p := New(fake)

	path := testutil.WritePNG(t, t.TempDir(), "empty.png", testutil.SolidImage(8, 8, color.Black))
	resp, _, err := p.Run(context.Background(), imageio.NewPathSource(path))
	require.NoError(t, err)
	assert.NotNil(t, resp.Detections)
	assert.Empty(t, resp.Detections)
}

func TestRun_AcquireErrorSkipsDetection(t *testing.T) {
	fake := detectortest.New(nil)
	p := New(fake)

	missing := filepath.Join(t.TempDir(), "none.jpg")
	_, _, err := p.Run(context.Background(), imageio.NewPathSource(missing))

	var nf *imageio.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Zero(t, fake.Calls())
}

func TestRun_DetectError(t *testing.T) {
	fake := detectortest.New(nil)
	fake.SetError(&detector.InferenceError{Op: "run", Err: errors.New("boom")})
	p := New(fake)

	data := testutil.EncodePNG(t, testutil.SolidImage(4, 4, color.White))
	_, _, err := p.Run(context.Background(), imageio.NewStreamSource(bytes.NewReader(data), ""))

	var infErr *detector.InferenceError
	require.ErrorAs(t, err, &infErr)
}

func TestRun_CanceledContext(t *testing.T) {
	fake := detectortest.New(nil)
	p := New(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := testutil.EncodePNG(t, testutil.SolidImage(4, 4, color.White))
	_, _, err := p.Run(ctx, imageio.NewStreamSource(bytes.NewReader(data), ""))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fake.Calls())
}

func TestRun_Deterministic(t *testing.T) {
	fake := detectortest.New(map[int]string{0: "car"})
	fake.SetDetections(
		detector.Detection{X1: 1, Y1: 1, X2: 5, Y2: 5, Confidence: 0.8},
		detector.Detection{X1: 10, Y1: 10, X2: 50, Y2: 50, Confidence: 0.4},
	)
	p := New(fake)
	data := testutil.EncodeJPEG(t, testutil.GradientImage(32, 32))

	first, _, err := p.Run(context.Background(), imageio.NewStreamSource(bytes.NewReader(data), ""))
	require.NoError(t, err)
	second, _, err := p.Run(context.Background(), imageio.NewStreamSource(bytes.NewReader(data), ""))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPipeline_Close(t *testing.T) {
	fake := detectortest.New(nil)
	p := New(fake)
	require.NoError(t, p.Close())
	assert.True(t, fake.Closed())

	var nilPipeline *Pipeline
	assert.NoError(t, nilPipeline.Close())
}

func TestBuilder_Config(t *testing.T) {
	t.Setenv(models.EnvModelPath, "")
	dir := t.TempDir()

	cfg := NewBuilder().
		WithModelsDir(dir).
		WithImageSize(320).
		WithThresholds(0.4, 0.5).
		WithMaxDetections(50).
		WithThreads(2).
		WithWarmupIterations(3).
		WithGPU(true).
		WithGPUDevice(1).
		WithGPUMemoryLimit(1 << 30).
		Config()

	assert.Equal(t, filepath.Join(dir, models.DefaultModelFile), cfg.Detector.ModelPath)
	assert.Empty(t, cfg.Detector.NamesPath)
	assert.Equal(t, 320, cfg.Detector.ImageSize)
	assert.InDelta(t, 0.4, cfg.Detector.ConfThreshold, 1e-6)
	assert.InDelta(t, 0.5, cfg.Detector.IoUThreshold, 1e-6)
	assert.Equal(t, 50, cfg.Detector.MaxDetections)
	assert.Equal(t, 2, cfg.Detector.Execution.NumThreads)
	assert.Equal(t, 3, cfg.WarmupIterations)
	assert.True(t, cfg.Detector.Execution.UseGPU)
	assert.Equal(t, 1, cfg.Detector.Execution.DeviceID)
	assert.Equal(t, uint64(1<<30), cfg.Detector.Execution.GPUMemLimit)
}

func TestBuilder_ExplicitModelPathWins(t *testing.T) {
	cfg := NewBuilder().
		WithModelPath("/weights/parking.onnx").
		WithModelsDir("/elsewhere").
		Config()
	assert.Equal(t, "/weights/parking.onnx", cfg.Detector.ModelPath)
}

func TestBuilder_NamesFileNextToModel(t *testing.T) {
	dir := t.TempDir()
	names := testutil.WriteFile(t, dir, models.DefaultNamesFile, []byte("- car\n"))

	cfg := NewBuilder().WithModelPath(filepath.Join(dir, "best.onnx")).Config()
	assert.Equal(t, names, cfg.Detector.NamesPath)
}

func TestBuilder_Validate(t *testing.T) {
	err := NewBuilder().WithThresholds(2, 0.5).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector config")
}

func TestBuilder_BuildMissingModel(t *testing.T) {
	_, err := NewBuilder().WithModelPath(filepath.Join(t.TempDir(), "missing.onnx")).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init detector")
}
