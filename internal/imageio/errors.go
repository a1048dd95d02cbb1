package imageio

import (
	"fmt"
	"net/http"
)

// FetchError reports a failure to retrieve an image from a remote URL.
type FetchError struct {
	URL        string
	StatusCode int // non-zero when the server answered with a non-success status
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError reports a local image path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "file not found: " + e.Path
}

// DecodeError reports bytes that could not be opened or decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
