// Package detector runs a YOLO object-detection model exported to ONNX.
package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/parkdet/internal/mempool"
	"github.com/MeKo-Tech/parkdet/internal/models"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Detector performs object detection using ONNX Runtime. It is created once
// per process and shared by all requests.
type Detector struct {
	config  Config
	session *onnxruntime_go.DynamicAdvancedSession
	io      modelIO
	names   *ClassNames
	mu      sync.RWMutex // guards session
	runMu   sync.Mutex   // serializes session.Run
}

// New loads the model and class names described by config.
func New(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateModelExists(config.ModelPath); err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"image_size", config.ImageSize,
		"conf_threshold", config.ConfThreshold,
		"gpu_enabled", config.Execution.UseGPU)

	if err := onnx.Initialize(config.Execution.UseGPU); err != nil {
		return nil, err
	}

	mio, err := inspectModel(config.ModelPath, config.ImageSize)
	if err != nil {
		return nil, err
	}
	mio.kind = readOutputKind(config.ModelPath)
	if err := checkOutputKind(mio.output.Dimensions, mio.kind); err != nil {
		return nil, err
	}

	names, err := loadClassNames(config)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config.ModelPath, mio, config.Execution)
	if err != nil {
		return nil, err
	}

	slog.Info("Detector initialized",
		"model_path", config.ModelPath,
		"input", mio.input.Name,
		"output", mio.output.Name,
		"output_format", mio.kind.String(),
		"classes", names.Len())

	return &Detector{
		config:  config,
		session: session,
		io:      mio,
		names:   names,
	}, nil
}

func loadClassNames(config Config) (*ClassNames, error) {
	if config.NamesPath != "" {
		return LoadNamesFile(config.NamesPath)
	}
	names, err := readClassNames(config.ModelPath)
	if err != nil {
		slog.Warn("Model class names unavailable, falling back to numeric labels", "error", err)
		return NewClassNames(nil), nil
	}
	if names.Len() == 0 {
		slog.Warn("Model carries no class names, falling back to numeric labels")
	}
	return names, nil
}

// Detect runs the model on img and returns detections ordered by descending
// confidence. Any runtime failure is returned as *InferenceError.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	size := d.config.ImageSize

	input, lb, err := preprocess(img, size)
	if err != nil {
		return nil, &InferenceError{Op: "preprocess", Err: err}
	}
	defer mempool.PutFloat32(input)

	tensor, err := onnx.NewImageTensor(input, 3, size, size)
	if err != nil {
		return nil, &InferenceError{Op: "preprocess", Err: err}
	}

	output, shape, err := d.run(tensor)
	if err != nil {
		return nil, &InferenceError{Op: "run", Err: err}
	}
	defer mempool.PutFloat32(output)

	dets, err := decodeOutput(output, shape, lb, d.config, d.io.kind)
	if err != nil {
		return nil, &InferenceError{Op: "postprocess", Err: err}
	}
	return dets, nil
}

// run executes one forward pass and copies the output into a pooled buffer.
func (d *Detector) run(tensor onnx.Tensor) ([]float32, []int64, error) {
	if err := onnx.VerifyImageTensor(tensor); err != nil {
		return nil, nil, fmt.Errorf("invalid tensor: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, nil, errors.New("detector session is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(tensor.Shape...), tensor.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	// ONNX Runtime allocates the output when the slot is nil.
	outputs := []onnxruntime_go.Value{nil}
	d.runMu.Lock()
	err = d.session.Run([]onnxruntime_go.Value{inputTensor}, outputs)
	d.runMu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("session run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, nil, errors.New("session returned no output")
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "error", err)
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}

	data := floatTensor.GetData()
	buf := mempool.GetFloat32(len(data))
	copy(buf, data)
	shape := append([]int64(nil), floatTensor.GetShape()...)
	return buf, shape, nil
}

// ClassNames returns the class table loaded at startup.
func (d *Detector) ClassNames() *ClassNames {
	return d.names
}

// Config returns a copy of the detector's configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Close releases the ONNX session. The runtime environment stays alive until
// onnx.Shutdown is called at process exit.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy detector session: %w", err)
	}
	return nil
}
