package imageio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"
)

// Acquisition modes, one per source kind.
const (
	ModeURL    = "url"
	ModePath   = "path"
	ModeUpload = "file"
)

// DefaultFetchTimeout bounds a remote image fetch end to end.
const DefaultFetchTimeout = 15 * time.Second

// Source produces one decoded, opaque RGB image.
type Source interface {
	Acquire(ctx context.Context) (image.Image, error)
	Mode() string
}

// NewHTTPClient returns a client whose requests fail after timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &http.Client{Timeout: timeout}
}

// URLSource fetches an image over HTTP(S).
type URLSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64 // 0 disables the size limit
}

// NewURLSource creates a source for rawURL. A nil client gets the default timeout.
func NewURLSource(rawURL string, client *http.Client, maxBytes int64) *URLSource {
	if client == nil {
		client = NewHTTPClient(DefaultFetchTimeout)
	}
	return &URLSource{URL: rawURL, Client: client, MaxBytes: maxBytes}
}

func (s *URLSource) Mode() string { return ModeURL }

// Acquire downloads and decodes the image. Transport failures, non-2xx
// responses and oversized bodies yield *FetchError; bad bytes yield *DecodeError.
func (s *URLSource) Acquire(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: s.URL, Err: err}
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: s.URL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body := io.Reader(resp.Body)
	if s.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, s.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{URL: s.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return nil, &FetchError{URL: s.URL, Err: fmt.Errorf("response body exceeds %d bytes", s.MaxBytes)}
	}

	return decodeBytes(data)
}

// PathSource reads an image from the serving host's filesystem.
type PathSource struct {
	Path string
}

// NewPathSource creates a source for path.
func NewPathSource(path string) *PathSource {
	return &PathSource{Path: path}
}

func (s *PathSource) Mode() string { return ModePath }

// Acquire returns *NotFoundError when the path is missing and *DecodeError when
// it cannot be opened or decoded.
func (s *PathSource) Acquire(_ context.Context) (image.Image, error) {
	info, err := os.Stat(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Path: s.Path}
	}
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if info.IsDir() {
		return nil, &DecodeError{Err: fmt.Errorf("%s is a directory", s.Path)}
	}

	f, err := os.Open(s.Path) //nolint:gosec // G304: serving local paths is the purpose of this source
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	defer func() { _ = f.Close() }()

	return decodeImage(f)
}

// StreamSource decodes an uploaded byte stream.
type StreamSource struct {
	Reader   io.Reader
	Filename string
}

// NewStreamSource creates a source reading from r. filename is informational.
func NewStreamSource(r io.Reader, filename string) *StreamSource {
	return &StreamSource{Reader: r, Filename: filename}
}

func (s *StreamSource) Mode() string { return ModeUpload }

func (s *StreamSource) Acquire(_ context.Context) (image.Image, error) {
	if s.Reader == nil {
		return nil, &DecodeError{Err: errors.New("empty upload")}
	}
	return decodeImage(s.Reader)
}

func decodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty image data")}
	}
	return decodeImage(bytes.NewReader(data))
}

// decodeImage keeps a nil *image.NRGBA out of the image.Image interface.
func decodeImage(r io.Reader) (image.Image, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return img, nil
}
