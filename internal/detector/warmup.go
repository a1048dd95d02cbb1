package detector

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/mempool"
	"github.com/MeKo-Tech/parkdet/internal/onnx"
)

// Warmup runs a number of forward passes on a blank image to reduce first-request latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}

	size := d.config.ImageSize
	input, _, err := preprocess(image.NewNRGBA(image.Rect(0, 0, size, size)), size)
	if err != nil {
		return err
	}
	defer mempool.PutFloat32(input)

	tensor, err := onnx.NewImageTensor(input, 3, size, size)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := range iterations {
		out, _, err := d.run(tensor)
		if err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
		mempool.PutFloat32(out)
	}
	slog.Debug("Detector warmup complete", "iterations", iterations, "duration", time.Since(start))
	return nil
}
