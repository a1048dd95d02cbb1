// Package benchmark measures detection latency and memory use.
package benchmark

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/detector"
)

// Timer measures one elapsed interval.
type Timer struct {
	start    time.Time
	duration time.Duration
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  // Currently allocated bytes
	TotalAllocBytes uint64  // Total allocated bytes (cumulative)
	SysBytes        uint64  // Total bytes from system
	NumGC           uint32  // Number of GC runs
	GCCPUFraction   float64 // Fraction of CPU time spent in GC
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024,
		m.TotalAllocBytes/1024,
		m.SysBytes/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// Result holds the outcome of one benchmark.
type Result struct {
	Name         string
	Iterations   int
	Total        time.Duration
	Min, Max     time.Duration
	Mean         time.Duration
	P50, P95     time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        error
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	allocated := int64(r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes) //nolint:gosec // G115: display only
	return fmt.Sprintf("%s: %d iterations, mean: %v, p50: %v, p95: %v, min: %v, max: %v, alloc: %d KB/op",
		r.Name, r.Iterations, r.Mean, r.P50, r.P95, r.Min, r.Max, allocated/1024/int64(max(r.Iterations, 1)))
}

// Run calls fn warmup times unmeasured, then iterations times measured. It
// stops at the first error.
func Run(name string, iterations, warmup int, fn func() error) Result {
	res := Result{Name: name}
	if iterations <= 0 {
		res.Error = errors.New("iterations must be positive")
		return res
	}

	for range warmup {
		if err := fn(); err != nil {
			res.Error = fmt.Errorf("warmup: %w", err)
			return res
		}
	}

	runtime.GC()
	res.MemoryBefore = GetMemoryStats()

	samples := make([]time.Duration, 0, iterations)
	for range iterations {
		timer := NewTimer()
		err := fn()
		d := timer.Stop()
		if err != nil {
			res.Error = err
			break
		}
		samples = append(samples, d)
	}

	res.MemoryAfter = GetMemoryStats()
	res.Iterations = len(samples)
	summarize(&res, samples)
	return res
}

func summarize(res *Result, samples []time.Duration) {
	if len(samples) == 0 {
		return
	}
	slices.Sort(samples)
	for _, d := range samples {
		res.Total += d
	}
	res.Min = samples[0]
	res.Max = samples[len(samples)-1]
	res.Mean = res.Total / time.Duration(len(samples))
	res.P50 = percentile(samples, 0.50)
	res.P95 = percentile(samples, 0.95)
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted))-1e-9)) - 1
	return sorted[min(max(rank, 0), len(sorted)-1)]
}

// Detector is the part of the detector a latency benchmark drives.
type Detector interface {
	Detect(img image.Image) ([]detector.Detection, error)
}

// Detection benchmarks det on img.
func Detection(name string, det Detector, img image.Image, iterations, warmup int) Result {
	return Run(name, iterations, warmup, func() error {
		_, err := det.Detect(img)
		return err
	})
}
