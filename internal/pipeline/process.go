package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/results"
)

// Stats records where time went for one request.
type Stats struct {
	Mode            string
	Width, Height   int
	AcquireDuration time.Duration
	DetectDuration  time.Duration
	Detections      int
}

// Run acquires an image from src, detects objects and formats the response.
// Acquisition errors are returned as-is from the source; detection errors come
// from the detector. No partial response is produced on failure.
func (p *Pipeline) Run(ctx context.Context, src imageio.Source) (results.Response, Stats, error) {
	stats := Stats{Mode: src.Mode()}

	start := time.Now()
	img, err := src.Acquire(ctx)
	stats.AcquireDuration = time.Since(start)
	if err != nil {
		return results.Response{}, stats, err
	}
	if err := ctx.Err(); err != nil {
		return results.Response{}, stats, err
	}

	b := img.Bounds()
	stats.Width, stats.Height = b.Dx(), b.Dy()

	start = time.Now()
	raw, err := p.Detector.Detect(img)
	stats.DetectDuration = time.Since(start)
	if err != nil {
		return results.Response{}, stats, err
	}

	resp := results.Format(raw, p.Detector.ClassNames())
	stats.Detections = len(resp.Detections)

	slog.Debug("Pipeline run complete",
		"mode", stats.Mode,
		"width", stats.Width,
		"height", stats.Height,
		"detections", stats.Detections,
		"acquire_ms", stats.AcquireDuration.Milliseconds(),
		"detect_ms", stats.DetectDuration.Milliseconds())

	return resp, stats, nil
}
