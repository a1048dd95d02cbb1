package batch

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/detector/detectortest"
	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		files = append(files, testutil.WritePNG(t, dir, name, testutil.SolidImage(16, 16, color.White)))
	}
	missing := filepath.Join(dir, "missing.png")
	files = append(files[:2], append([]string{missing}, files[2:]...)...)

	fake := detectortest.New(map[int]string{0: "car"})
	fake.SetDetections(detector.Detection{X2: 4, Y2: 4, Confidence: 0.8})

	res := Process(context.Background(), pipeline.New(fake), files, 3)

	require.Len(t, res.Items, 5)
	for i, it := range res.Items {
		assert.Equal(t, files[i], it.Path, "items keep input order")
	}
	assert.Equal(t, 1, res.Failed())
	var notFound *imageio.NotFoundError
	assert.ErrorAs(t, res.Items[2].Err, &notFound)
	assert.Equal(t, 4, res.Detections())
	assert.Equal(t, 3, res.Workers)
	assert.Equal(t, 4, fake.Calls())
}

func TestProcess_WorkersCapped(t *testing.T) {
	path := testutil.WritePNG(t, t.TempDir(), "a.png", testutil.SolidImage(4, 4, color.Black))
	res := Process(context.Background(), pipeline.New(detectortest.New(nil)), []string{path}, 16)
	assert.Equal(t, 1, res.Workers)
	assert.Zero(t, res.Failed())
}

func TestProcess_Cancelled(t *testing.T) {
	path := testutil.WritePNG(t, t.TempDir(), "a.png", testutil.SolidImage(4, 4, color.Black))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := detectortest.New(nil)
	res := Process(ctx, pipeline.New(fake), []string{path, path}, 2)
	assert.Equal(t, 2, res.Failed())
	assert.ErrorIs(t, res.Items[0].Err, context.Canceled)
	assert.Zero(t, fake.Calls())
}

func TestProcess_Empty(t *testing.T) {
	res := Process(context.Background(), pipeline.New(detectortest.New(nil)), nil, 0)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Detections())
}
