package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/detector/detectortest"
	"github.com/MeKo-Tech/parkdet/internal/occupancy"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/MeKo-Tech/parkdet/internal/server"
	"github.com/MeKo-Tech/parkdet/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// apiContext holds the state of one scenario.
type apiContext struct {
	dir        string
	fake       *detectortest.Fake
	server     *server.Server
	api        *httptest.Server
	files      *httptest.Server
	status     int
	body       []byte
	detections []detector.Detection
}

// serverConfig is shared by every scenario server.
func serverConfig() server.Config {
	return server.Config{
		CORSOrigin:      "*",
		MaxUploadMB:     2,
		FetchTimeoutSec: 2,
	}
}

func newAPIContext() *apiContext {
	return &apiContext{}
}

func (a *apiContext) registerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the detection server is running with classes "([^"]*)"$`, a.serverRunning)
	sc.Step(`^the detector finds a "([^"]*)" at (\d+),(\d+),(\d+),(\d+) with confidence ([0-9.]+)$`, a.detectorFinds)
	sc.Step(`^the detector fails$`, a.detectorFails)
	sc.Step(`^an image "([^"]*)" of size (\d+)x(\d+)$`, a.imageFile)
	sc.Step(`^a corrupt image "([^"]*)"$`, a.corruptImage)
	sc.Step(`^the images are served over HTTP$`, a.serveImages)

	sc.Step(`^I request detection by path for "([^"]*)"$`, a.predictPath)
	sc.Step(`^I request detection by URL for "([^"]*)"$`, a.predictURL)
	sc.Step(`^I request detection by URL for an unreachable host$`, a.predictUnreachable)
	sc.Step(`^I upload "([^"]*)"$`, a.upload)
	sc.Step(`^I send a GET request to "([^"]*)"$`, a.get)
	sc.Step(`^the parking layout has slots:$`, a.parkingLayout)
	sc.Step(`^I request occupancy by path for "([^"]*)"$`, a.occupancyPath)

	sc.Step(`^the response status should be (\d+)$`, a.statusShouldBe)
	sc.Step(`^the response body should be exactly '([^']*)'$`, a.bodyShouldBe)
	sc.Step(`^the response should contain (\d+) detections?$`, a.detectionCount)
	sc.Step(`^detection (\d+) should have class "([^"]*)" and confidence ([0-9.]+)$`, a.detectionShouldBe)
	sc.Step(`^all detections should be within bounds$`, a.detectionsWithinBounds)
	sc.Step(`^the error detail should be "([^"]*)"$`, a.detailShouldBe)
	sc.Step(`^the error detail should start with "([^"]*)"$`, a.detailShouldStartWith)
	sc.Step(`^the error detail should mention the missing image "([^"]*)"$`, a.detailMentionsMissing)
	sc.Step(`^the occupied slots should be "([^"]*)"$`, a.occupiedShouldBe)
	sc.Step(`^the available slots should be "([^"]*)"$`, a.availableShouldBe)
}

func (a *apiContext) serverRunning(classList string) error {
	dir, err := os.MkdirTemp("", "parkdet-api-*")
	if err != nil {
		return err
	}
	a.dir = dir

	names := make(map[int]string)
	for i, name := range strings.Split(classList, ",") {
		names[i] = strings.TrimSpace(name)
	}
	a.fake = detectortest.New(names)
	a.server = server.New(pipeline.New(a.fake), serverConfig())
	a.api = httptest.NewServer(a.server.Handler())
	return nil
}

// parkingLayout restarts the API around a layout read from a
// label | x1 | y1 | x2 | y2 table.
func (a *apiContext) parkingLayout(table *godog.Table) error {
	layout := &occupancy.Layout{Name: "scenario"}
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		if len(row.Cells) != 5 {
			return fmt.Errorf("layout row %d: want 5 cells, got %d", i, len(row.Cells))
		}
		var coords [4]float64
		for j := range coords {
			v, err := strconv.ParseFloat(row.Cells[j+1].Value, 64)
			if err != nil {
				return fmt.Errorf("layout row %d: %w", i, err)
			}
			coords[j] = v
		}
		layout.Slots = append(layout.Slots, occupancy.Slot{
			Label: row.Cells[0].Value,
			X1:    coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3],
		})
	}
	if err := layout.Validate(); err != nil {
		return err
	}

	a.api.Close()
	cfg := serverConfig()
	cfg.Layout = layout
	a.server = server.New(pipeline.New(a.fake), cfg)
	a.api = httptest.NewServer(a.server.Handler())
	return nil
}

func (a *apiContext) detectorFinds(class string, x1, y1, x2, y2 int, conf float64) error {
	names := a.fake.ClassNames()
	for _, id := range names.IDs() {
		if names.Name(id) == class {
			a.detections = append(a.detections, detector.Detection{
				X1: float64(x1), Y1: float64(y1), X2: float64(x2), Y2: float64(y2),
				Confidence: conf, ClassID: id,
			})
			a.fake.SetDetections(a.detections...)
			return nil
		}
	}
	return fmt.Errorf("unknown class %q", class)
}

func (a *apiContext) detectorFails() error {
	a.fake.SetError(&detector.InferenceError{Op: "run", Err: errors.New("session aborted")})
	return nil
}

func (a *apiContext) imageFile(name string, w, h int) error {
	return imaging.Save(testutil.GradientImage(w, h), filepath.Join(a.dir, name))
}

func (a *apiContext) corruptImage(name string) error {
	return os.WriteFile(filepath.Join(a.dir, name), testutil.CorruptImageBytes(), 0o600)
}

func (a *apiContext) serveImages() error {
	a.files = httptest.NewServer(http.FileServer(http.Dir(a.dir)))
	return nil
}

func (a *apiContext) predictPath(name string) error {
	return a.postJSON("/predict/path", map[string]string{"image_path": filepath.Join(a.dir, name)})
}

func (a *apiContext) occupancyPath(name string) error {
	return a.postJSON("/occupancy/path", map[string]string{"image_path": filepath.Join(a.dir, name)})
}

func (a *apiContext) predictURL(name string) error {
	if a.files == nil {
		return errors.New("images are not served over HTTP")
	}
	return a.postJSON("/predict/url", map[string]string{"image_url": a.files.URL + "/" + name})
}

func (a *apiContext) predictUnreachable() error {
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL + "/lot.jpg"
	closed.Close()
	return a.postJSON("/predict/url", map[string]string{"image_url": url})
}

func (a *apiContext) upload(name string) error {
	data, err := os.ReadFile(filepath.Join(a.dir, name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return a.do(http.MethodPost, "/predict/file", mw.FormDataContentType(), &body)
}

func (a *apiContext) get(path string) error {
	return a.do(http.MethodGet, path, "", nil)
}

func (a *apiContext) postJSON(path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return a.do(http.MethodPost, path, "application/json", bytes.NewReader(b))
}

func (a *apiContext) do(method, path, contentType string, body io.Reader) error {
	req, err := http.NewRequest(method, a.api.URL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.api.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	a.status = resp.StatusCode
	a.body, err = io.ReadAll(resp.Body)
	return err
}

func (a *apiContext) statusShouldBe(code int) error {
	if a.status != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, a.status, a.body)
	}
	return nil
}

func (a *apiContext) bodyShouldBe(want string) error {
	if got := strings.TrimSpace(string(a.body)); got != want {
		return fmt.Errorf("expected body %s, got %s", want, got)
	}
	return nil
}

func (a *apiContext) response() (results.Response, error) {
	var resp results.Response
	if err := json.Unmarshal(a.body, &resp); err != nil {
		return resp, fmt.Errorf("decode detections: %w (body %s)", err, a.body)
	}
	return resp, nil
}

func (a *apiContext) detectionCount(n int) error {
	resp, err := a.response()
	if err != nil {
		return err
	}
	if len(resp.Detections) != n {
		return fmt.Errorf("expected %d detections, got %d", n, len(resp.Detections))
	}
	return nil
}

func (a *apiContext) detectionShouldBe(index int, class string, conf float64) error {
	resp, err := a.response()
	if err != nil {
		return err
	}
	if index < 1 || index > len(resp.Detections) {
		return fmt.Errorf("no detection %d in %d", index, len(resp.Detections))
	}
	d := resp.Detections[index-1]
	if d.ClassName != class {
		return fmt.Errorf("expected class %q, got %q", class, d.ClassName)
	}
	if diff := d.Confidence - conf; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("expected confidence %v, got %v", conf, d.Confidence)
	}
	return nil
}

func (a *apiContext) detectionsWithinBounds() error {
	resp, err := a.response()
	if err != nil {
		return err
	}
	for i, d := range resp.Detections {
		if d.X1 > d.X2 || d.Y1 > d.Y2 {
			return fmt.Errorf("detection %d has inverted corners: %+v", i+1, d)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d confidence %v outside [0,1]", i+1, d.Confidence)
		}
	}
	return nil
}

func (a *apiContext) detail() (string, error) {
	var er server.ErrorResponse
	if err := json.Unmarshal(a.body, &er); err != nil {
		return "", fmt.Errorf("decode error body: %w (body %s)", err, a.body)
	}
	return er.Detail, nil
}

func (a *apiContext) detailShouldBe(want string) error {
	got, err := a.detail()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected detail %q, got %q", want, got)
	}
	return nil
}

func (a *apiContext) detailShouldStartWith(prefix string) error {
	got, err := a.detail()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(got, prefix) {
		return fmt.Errorf("expected detail starting with %q, got %q", prefix, got)
	}
	return nil
}

func (a *apiContext) detailMentionsMissing(name string) error {
	return a.detailShouldBe("File not found: " + filepath.Join(a.dir, name))
}

func (a *apiContext) occupancyResponse() (server.OccupancyResponse, error) {
	var resp server.OccupancyResponse
	if err := json.Unmarshal(a.body, &resp); err != nil {
		return resp, fmt.Errorf("decode occupancy: %w (body %s)", err, a.body)
	}
	return resp, nil
}

func slotList(labels string) []string {
	out := []string{}
	for _, l := range strings.Split(labels, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (a *apiContext) occupiedShouldBe(labels string) error {
	resp, err := a.occupancyResponse()
	if err != nil {
		return err
	}
	if want := slotList(labels); !slices.Equal(resp.Occupied, want) {
		return fmt.Errorf("expected occupied %v, got %v", want, resp.Occupied)
	}
	return nil
}

func (a *apiContext) availableShouldBe(labels string) error {
	resp, err := a.occupancyResponse()
	if err != nil {
		return err
	}
	if want := slotList(labels); !slices.Equal(resp.Available, want) {
		return fmt.Errorf("expected available %v, got %v", want, resp.Available)
	}
	return nil
}

func (a *apiContext) cleanup() error {
	if a.api != nil {
		a.api.Close()
	}
	if a.files != nil {
		a.files.Close()
	}
	if a.server != nil {
		_ = a.server.Close()
	}
	if a.dir != "" {
		return os.RemoveAll(a.dir)
	}
	return nil
}
