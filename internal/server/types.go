package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/detector"
	"github.com/MeKo-Tech/parkdet/internal/imageio"
	"github.com/MeKo-Tech/parkdet/internal/occupancy"
	"github.com/MeKo-Tech/parkdet/internal/pipeline"
	"github.com/MeKo-Tech/parkdet/internal/results"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runner defines the methods needed by the server from a pipeline.
type Runner interface {
	Run(ctx context.Context, src imageio.Source) (results.Response, pipeline.Stats, error)
	ModelInfo() detector.ModelInfo
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    Runner
	fetchClient *http.Client
	corsOrigin  string
	maxUploadMB int64
	layout      *occupancy.Layout
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64 // Applies to uploads, URL bodies and websocket frames
	TimeoutSec      int
	FetchTimeoutSec int
	PipelineConfig  pipeline.Config

	// LayoutPath names a parking layout file loaded by NewServer. Layout,
	// when set, takes precedence. Without either the occupancy endpoints
	// answer 503.
	LayoutPath string
	Layout     *occupancy.Layout
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8000,
		CORSOrigin:      "*",
		MaxUploadMB:     20,
		TimeoutSec:      60,
		FetchTimeoutSec: int(imageio.DefaultFetchTimeout / time.Second),
		PipelineConfig:  pipeline.DefaultConfig(),
	}
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// URLRequest is the body of POST /predict/url.
type URLRequest struct {
	ImageURL string `json:"image_url"`
}

// PathRequest is the body of POST /predict/path.
type PathRequest struct {
	ImagePath string `json:"image_path"`
}

// OccupancyResponse is the body returned by the occupancy endpoints.
type OccupancyResponse struct {
	Layout string `json:"layout,omitempty"`
	occupancy.Result
	Detections []results.Detection `json:"detections"`
}

// NewServer loads the model described by config and returns a ready server.
func NewServer(config Config) (*Server, error) {
	if config.Layout == nil && config.LayoutPath != "" {
		layout, err := occupancy.LoadLayout(config.LayoutPath)
		if err != nil {
			return nil, err
		}
		config.Layout = layout
	}

	pl, err := pipeline.FromConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	return New(pl, config), nil
}

// New creates a server around an existing pipeline.
func New(p Runner, config Config) *Server {
	fetchTimeout := time.Duration(config.FetchTimeoutSec) * time.Second
	return &Server{
		pipeline:    p,
		fetchClient: imageio.NewHTTPClient(fetchTimeout),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		layout:      config.Layout,
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/model", s.corsMiddleware(s.modelHandler))
	mux.HandleFunc("/predict/url", s.corsMiddleware(s.urlHandler(s.respondDetections)))
	mux.HandleFunc("/predict/path", s.corsMiddleware(s.pathHandler(s.respondDetections)))
	mux.HandleFunc("/predict/file", s.corsMiddleware(s.fileHandler(s.respondDetections)))
	mux.HandleFunc("/occupancy/url", s.corsMiddleware(s.urlHandler(s.respondOccupancy)))
	mux.HandleFunc("/occupancy/path", s.corsMiddleware(s.pathHandler(s.respondOccupancy)))
	mux.HandleFunc("/occupancy/file", s.corsMiddleware(s.fileHandler(s.respondOccupancy)))
	mux.HandleFunc("/ws/predict", s.predictWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed mux wrapped in request id, logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return requestIDMiddleware(loggingMiddleware(recoveryMiddleware(mux)))
}

// maxUploadBytes returns the byte limit for image payloads, 0 for unlimited.
func (s *Server) maxUploadBytes() int64 {
	if s.maxUploadMB <= 0 {
		return 0
	}
	return s.maxUploadMB * 1024 * 1024
}
