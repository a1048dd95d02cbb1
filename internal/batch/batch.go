// Package batch runs the detection pipeline over many local images.
package batch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/results"
)

// Runner is the part of *pipeline.Pipeline a batch needs.
type Runner interface {
	Run(ctx context.Context, src imageio.Source) (results.Response, pipeline.Stats, error)
}

// Item is the outcome for one image.
type Item struct {
	Path     string
	Response results.Response
	Stats    pipeline.Stats
	Err      error
}

// Result aggregates a batch run. Items are in input order.
type Result struct {
	Items    []Item
	Workers  int
	Duration time.Duration
}

// Failed counts items that returned an error.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Detections counts detections across successful items.
func (r *Result) Detections() int {
	n := 0
	for _, it := range r.Items {
		n += len(it.Response.Detections)
	}
	return n
}

// Process runs every file through r with up to workers goroutines. A failing
// image does not stop the batch; cancelling ctx marks unstarted images with
// the context error.
func Process(ctx context.Context, r Runner, files []string, workers int) *Result {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(files), 1))

	res := &Result{Items: make([]Item, len(files)), Workers: workers}
	start := time.Now()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res.Items[i] = processOne(ctx, r, files[i])
			}
		}()
	}

	for i, path := range files {
		if ctx.Err() != nil {
			res.Items[i] = Item{Path: path, Err: ctx.Err()}
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res.Duration = time.Since(start)
	slog.Debug("Batch completed", "images", len(files), "failed", res.Failed(),
		"workers", workers, "duration_ms", res.Duration.Milliseconds())
	return res
}

func processOne(ctx context.Context, r Runner, path string) Item {
	resp, stats, err := r.Run(ctx, imageio.NewPathSource(path))
	if err != nil {
		slog.Warn("Image failed", "path", path, "error", err)
	}
	return Item{Path: path, Response: resp, Stats: stats, Err: err}
}
