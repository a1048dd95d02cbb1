package detector

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/MeKo-Tech/parkdet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envTestModel points at a YOLO ONNX export used by the runtime tests.
const envTestModel = "PARKDET_TEST_MODEL"

func TestNew_MissingModel(t *testing.T) {
	cfg := testConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ImageSize = -1

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image size")
}

func TestInferenceError(t *testing.T) {
	cause := errors.New("bad output")
	var err error = &InferenceError{Op: "postprocess", Err: cause}

	assert.Equal(t, "inference postprocess: bad output", err.Error())
	assert.ErrorIs(t, err, cause)

	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "postprocess", infErr.Op)
}

func TestDetection_Size(t *testing.T) {
	d := Detection{X1: 10, Y1: 20, X2: 40, Y2: 30}
	assert.InDelta(t, 30, d.Width(), 1e-9)
	assert.InDelta(t, 10, d.Height(), 1e-9)
}

// newRuntimeDetector loads the model named by PARKDET_TEST_MODEL or skips.
func newRuntimeDetector(t *testing.T) *Detector {
	t.Helper()

	modelPath := os.Getenv(envTestModel)
	if modelPath == "" {
		t.Skipf("%s not set", envTestModel)
	}
	if err := onnx.SetLibraryPath(false); err != nil {
		t.Skipf("ONNX Runtime not available: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ModelPath = modelPath
	det, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = det.Close() })
	return det
}

func TestDetector_Runtime(t *testing.T) {
	det := newRuntimeDetector(t)

	require.NoError(t, det.Warmup(1))

	img := testutil.SolidImage(800, 600, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	first, err := det.Detect(img)
	require.NoError(t, err)
	second, err := det.Detect(img)
	require.NoError(t, err)
	assert.Equal(t, first, second, "detection must be deterministic")

	for _, d := range first {
		assert.GreaterOrEqual(t, d.X1, 0.0)
		assert.LessOrEqual(t, d.X2, 800.0)
		assert.LessOrEqual(t, d.Y2, 600.0)
		assert.Greater(t, d.Confidence, 0.25)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}

	info := det.ModelInfo()
	assert.Equal(t, 640, info.ImageSize)
	assert.NotEmpty(t, info.InputName)
	assert.Len(t, info.OutputShape, 3)
}

func TestDetector_DetectAfterClose(t *testing.T) {
	det := newRuntimeDetector(t)
	require.NoError(t, det.Close())

	_, err := det.Detect(testutil.SolidImage(64, 64, color.White))
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "run", infErr.Op)
	assert.NoError(t, det.Close(), "Close is idempotent")
}
