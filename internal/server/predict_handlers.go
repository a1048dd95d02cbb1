package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/results"
)

// maxJSONBody bounds the JSON bodies of the url and path endpoints.
const maxJSONBody = 1 << 20

// Upload form limits.
const (
	uploadField     = "file"
	multipartMemory = 32 << 20
)

// respondFunc turns an image source into an HTTP response.
type respondFunc func(w http.ResponseWriter, r *http.Request, src imageio.Source)

// urlHandler reads image_url from a JSON body and hands its source to respond.
func (s *Server) urlHandler(respond respondFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}

		var req URLRequest
		if !s.decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ImageURL) == "" {
			writeError(w, http.StatusBadRequest, "Field required: image_url")
			return
		}

		respond(w, r, imageio.NewURLSource(req.ImageURL, s.fetchClient, s.maxUploadBytes()))
	}
}

// pathHandler reads image_path, a file on the server's filesystem, from a JSON body.
func (s *Server) pathHandler(respond respondFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}

		var req PathRequest
		if !s.decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ImagePath) == "" {
			writeError(w, http.StatusBadRequest, "Field required: image_path")
			return
		}

		respond(w, r, imageio.NewPathSource(req.ImagePath))
	}
}

// fileHandler reads a multipart upload in field "file".
func (s *Server) fileHandler(respond respondFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}

		if limit := s.maxUploadBytes(); limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Uploaded file exceeds %d MB", s.maxUploadMB))
				return
			}
			writeError(w, http.StatusBadRequest, "Failed to parse form data: "+err.Error())
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile(uploadField)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Field required: "+uploadField)
			return
		}
		defer func() { _ = file.Close() }()

		uploadSizeBytes.Observe(float64(header.Size))
		respond(w, r, imageio.NewStreamSource(file, header.Filename))
	}
}

// decodeJSONBody decodes the request body into v, writing a 400 on failure.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// respondDetections runs the shared pipeline and writes either the detections
// or a classified error.
func (s *Server) respondDetections(w http.ResponseWriter, r *http.Request, src imageio.Source) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "Model not loaded")
		return
	}

	resp, err := s.detect(r.Context(), src)
	if err != nil {
		s.writeDetectError(w, r, src, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// respondOccupancy runs the pipeline and maps the detections onto the
// configured parking layout.
func (s *Server) respondOccupancy(w http.ResponseWriter, r *http.Request, src imageio.Source) {
	if s.layout == nil {
		writeError(w, http.StatusServiceUnavailable, "Parking layout not configured")
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "Model not loaded")
		return
	}

	resp, err := s.detect(r.Context(), src)
	if err != nil {
		s.writeDetectError(w, r, src, err)
		return
	}

	res := s.layout.Evaluate(resp.Detections)
	slotsOccupied.WithLabelValues(s.layout.Name).Set(float64(len(res.Occupied)))
	slotsTotal.WithLabelValues(s.layout.Name).Set(float64(res.Total))

	writeJSON(w, http.StatusOK, OccupancyResponse{
		Layout:     s.layout.Name,
		Result:     res,
		Detections: resp.Detections,
	})
}

// writeDetectError logs a failed detection and writes its classified error.
// Nothing is written when the client has gone away.
func (s *Server) writeDetectError(w http.ResponseWriter, r *http.Request, src imageio.Source, err error) {
	requestID := RequestIDFromContext(r.Context())
	if r.Context().Err() != nil && errors.Is(err, context.Canceled) {
		slog.Debug("Detection request canceled by client", "mode", src.Mode(), "request_id", requestID)
		return
	}

	status, detail := classifyError(src.Mode(), err)
	logAttrs := []any{"mode", src.Mode(), "status", status, "error", err, "request_id", requestID}
	if status >= http.StatusInternalServerError {
		slog.Error("Detection request failed", logAttrs...)
	} else {
		slog.Warn("Detection request rejected", logAttrs...)
	}
	writeError(w, status, detail)
}

// detect runs the pipeline and records metrics. It is shared by the HTTP and
// websocket endpoints.
func (s *Server) detect(ctx context.Context, src imageio.Source) (results.Response, error) {
	start := time.Now()
	resp, stats, err := s.pipeline.Run(ctx, src)
	predictDuration.WithLabelValues(src.Mode()).Observe(time.Since(start).Seconds())
	if err != nil {
		predictRequestsTotal.WithLabelValues(src.Mode(), errorKind(err)).Inc()
		return results.Response{}, err
	}

	predictRequestsTotal.WithLabelValues(src.Mode(), "success").Inc()
	inferenceDuration.Observe(stats.DetectDuration.Seconds())
	detectionsPerImage.WithLabelValues(src.Mode()).Observe(float64(stats.Detections))
	for name, n := range results.Summary(resp) {
		detectionsByClass.WithLabelValues(name).Add(float64(n))
	}
	return resp, nil
}

// classifyError maps a pipeline failure to a status code and client-facing detail.
// Anything not raised by image acquisition is an internal error whose cause is
// only logged.
func classifyError(mode string, err error) (int, string) {
	var notFound *imageio.NotFoundError
	var fetchErr *imageio.FetchError
	var decodeErr *imageio.DecodeError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "File not found: " + notFound.Path
	case errors.As(err, &fetchErr):
		return http.StatusBadRequest, "Failed to fetch image: " + fetchErr.Error()
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, decodeDetailPrefix(mode) + decodeErr.Error()
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func decodeDetailPrefix(mode string) string {
	switch mode {
	case imageio.ModePath:
		return "Unable to open image: "
	case imageio.ModeUpload:
		return "Invalid uploaded image: "
	default:
		return "Invalid image data: "
	}
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	var notFound *imageio.NotFoundError
	var fetchErr *imageio.FetchError
	var decodeErr *imageio.DecodeError

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &decodeErr):
		return "decode_error"
	default:
		return "internal_error"
	}
}
