package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/parkdet/internal/detector/detectortest"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/stretchr/testify/require"
)

var testClasses = map[int]string{0: "car", 1: "free"}

func testServerConfig() Config {
	return Config{
		CORSOrigin:      "*",
		MaxUploadMB:     1,
		FetchTimeoutSec: 2,
	}
}

// newTestServer returns a server around a fake detector and its full handler chain.
func newTestServer(t *testing.T) (*Server, *detectortest.Fake, http.Handler) {
	t.Helper()
	fake := detectortest.New(testClasses)
	s := New(pipeline.New(fake), testServerConfig())
	t.Cleanup(func() { _ = s.Close() })
	return s, fake, s.Handler()
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return doRequest(h, req)
}

func postFile(t *testing.T, h http.Handler, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	return postFileTo(t, h, "/predict/file", field, filename, data)
}

// postFileTo uploads data in a multipart form to path. An empty field sends a
// form without a file part.
func postFileTo(t *testing.T, h http.Handler, path, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return doRequest(h, req)
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er), "body: %s", rec.Body.String())
	return er.Detail
}

func decodeDetections(t *testing.T, rec *httptest.ResponseRecorder) results.Response {
	t.Helper()
	var resp results.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp
}

// serveBytes starts a server answering every request with status and body.
func serveBytes(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
