package detector

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/parkdet/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Custom metadata entries written by ultralytics exports.
const (
	namesMetadataKey   = "names"
	end2endMetadataKey = "end2end"
	argsMetadataKey    = "args"
)

// modelIO holds the tensors the session binds and how the output is decoded.
type modelIO struct {
	input  onnxruntime_go.InputOutputInfo
	output onnxruntime_go.InputOutputInfo
	kind   outputKind
}

// inspectModel reads and validates the model's input and output description.
func inspectModel(modelPath string, imageSize int) (modelIO, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return modelIO{}, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return modelIO{}, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return modelIO{}, fmt.Errorf("model %s has no outputs", modelPath)
	}

	in := inputs[0]
	dims := in.Dimensions
	if len(dims) != 4 {
		return modelIO{}, fmt.Errorf("expected 4D input, got %dD", len(dims))
	}
	if dims[1] > 0 && dims[1] != 3 {
		return modelIO{}, fmt.Errorf("expected 3 input channels, got %d", dims[1])
	}
	for _, d := range dims[2:] {
		if d > 0 && int(d) != imageSize {
			return modelIO{}, fmt.Errorf("model expects %dx%d input, configured image size is %d",
				dims[2], dims[3], imageSize)
		}
	}

	// Segmentation exports carry a second (mask prototype) output; boxes are always first.
	out := outputs[0]
	if len(out.Dimensions) != 3 {
		return modelIO{}, fmt.Errorf("expected 3D detection output, got shape %v", out.Dimensions)
	}
	return modelIO{input: in, output: out}, nil
}

// checkOutputKind rejects a static output shape that cannot hold rows of kind.
func checkOutputKind(dims []int64, kind outputKind) error {
	if kind == outputEndToEnd && len(dims) == 3 && dims[2] > 0 && dims[2] != endToEndAttrs {
		return fmt.Errorf("model declares end-to-end output but its shape is %v, want [1, K, %d]", dims, endToEndAttrs)
	}
	return nil
}

// readOutputKind reports the row format the export declares. Models without
// the entries, or whose metadata cannot be read, are left to shape detection.
func readOutputKind(modelPath string) outputKind {
	meta, err := onnxruntime_go.GetModelMetadata(modelPath)
	if err != nil {
		slog.Debug("Model metadata unavailable", "error", err)
		return outputAuto
	}
	defer func() {
		if err := meta.Destroy(); err != nil {
			slog.Warn("Failed to destroy model metadata", "error", err)
		}
	}()

	kind, err := outputKindFromMetadata(meta.LookupCustomMetadataMap)
	if err != nil {
		slog.Debug("Model metadata unreadable", "error", err)
		return outputAuto
	}
	return kind
}

// outputKindFromMetadata interprets the end2end flag and the export args. The
// args entry is a Python dict literal such as "{'batch': 1, 'nms': True}".
func outputKindFromMetadata(lookup func(key string) (string, bool, error)) (outputKind, error) {
	end2end, hasEnd2end, err := lookup(end2endMetadataKey)
	if err != nil {
		return outputAuto, err
	}
	if hasEnd2end && strings.EqualFold(strings.TrimSpace(end2end), "true") {
		return outputEndToEnd, nil
	}

	args, hasArgs, err := lookup(argsMetadataKey)
	if err != nil {
		return outputAuto, err
	}
	if hasArgs {
		compact := strings.NewReplacer(" ", "", `"`, "'").Replace(args)
		if strings.Contains(compact, "'nms':True") || strings.Contains(compact, "'nms':true") {
			return outputEndToEnd, nil
		}
	}
	if hasEnd2end || hasArgs {
		return outputRaw, nil
	}
	return outputAuto, nil
}

// readClassNames loads the class table embedded in the model metadata.
// A model without the entry yields an empty table.
func readClassNames(modelPath string) (*ClassNames, error) {
	meta, err := onnxruntime_go.GetModelMetadata(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer func() {
		if err := meta.Destroy(); err != nil {
			slog.Warn("Failed to destroy model metadata", "error", err)
		}
	}()

	value, ok, err := meta.LookupCustomMetadataMap(namesMetadataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q metadata: %w", namesMetadataKey, err)
	}
	if !ok {
		return NewClassNames(nil), nil
	}
	return ParseNames([]byte(value))
}

// createSession creates the ONNX session with the given configuration.
func createSession(modelPath string, mio modelIO, cfg onnx.ExecutionConfig,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnx.NewSessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{mio.input.Name}, []string{mio.output.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}
