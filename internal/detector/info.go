package detector

// ModelInfo describes the loaded model and its fixed inference settings.
type ModelInfo struct {
	ModelPath     string         `json:"model_path"`
	InputName     string         `json:"input_name"`
	InputShape    []int64        `json:"input_shape"`
	OutputName    string         `json:"output_name"`
	OutputShape   []int64        `json:"output_shape"`
	OutputFormat  string         `json:"output_format"`
	ImageSize     int            `json:"image_size"`
	ConfThreshold float32        `json:"conf_threshold"`
	IoUThreshold  float32        `json:"iou_threshold"`
	MaxDetections int            `json:"max_detections"`
	GPU           bool           `json:"gpu"`
	Classes       map[int]string `json:"classes"`
}

// ModelInfo returns information about the loaded detection model.
func (d *Detector) ModelInfo() ModelInfo {
	return ModelInfo{
		ModelPath:     d.config.ModelPath,
		InputName:     d.io.input.Name,
		InputShape:    append([]int64(nil), d.io.input.Dimensions...),
		OutputName:    d.io.output.Name,
		OutputShape:   append([]int64(nil), d.io.output.Dimensions...),
		OutputFormat:  d.io.kind.String(),
		ImageSize:     d.config.ImageSize,
		ConfThreshold: d.config.ConfThreshold,
		IoUThreshold:  d.config.IoUThreshold,
		MaxDetections: d.config.MaxDetections,
		GPU:           d.config.Execution.UseGPU,
		Classes:       d.names.Map(),
	}
}
