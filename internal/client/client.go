// Package client is a small HTTP client for the detection API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/parkdet/internal/results"
)

// DefaultBaseURL is where parkdet serve listens by default.
const DefaultBaseURL = "http://127.0.0.1:8000"

// APIError is a non-200 answer from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// Client calls the predict endpoints of a running server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// PredictURL asks the server to fetch and analyse imageURL.
func (c *Client) PredictURL(ctx context.Context, imageURL string) (results.Response, error) {
	return c.postJSON(ctx, "/predict/url", map[string]string{"image_url": imageURL})
}

// PredictPath asks the server to analyse a file on its own filesystem.
func (c *Client) PredictPath(ctx context.Context, imagePath string) (results.Response, error) {
	return c.postJSON(ctx, "/predict/path", map[string]string{"image_path": imagePath})
}

// PredictFile uploads a local file.
func (c *Client) PredictFile(ctx context.Context, path string) (results.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return results.Response{}, err
	}
	defer func() { _ = f.Close() }()
	return c.PredictReader(ctx, filepath.Base(path), f)
}

// PredictReader uploads r as the multipart field "file".
func (c *Client) PredictReader(ctx context.Context, filename string, r io.Reader) (results.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return results.Response{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return results.Response{}, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return results.Response{}, err
	}
	return c.post(ctx, "/predict/file", mw.FormDataContentType(), &body)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (results.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return results.Response{}, err
	}
	return c.post(ctx, path, "application/json", bytes.NewReader(b))
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (results.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return results.Response{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return results.Response{}, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return results.Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &er) != nil || er.Detail == "" {
			er.Detail = strings.TrimSpace(string(data))
		}
		return results.Response{}, &APIError{StatusCode: resp.StatusCode, Detail: er.Detail}
	}

	var out results.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return results.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
