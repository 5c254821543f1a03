package fetchqueue

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/vmetrics/vmetrics/internal/config"
)

var (
	// ErrRateLimited is returned in strict mode when the retry after a 429
	// is rate limited again.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrClosed is returned for requests made after Close, and for requests
	// still queued when Close is called.
	ErrClosed = errors.New("fetch queue closed")
)

// UpstreamError describes a failed upstream call: a non-2xx status other than
// 429, a transport failure, or a body that is not valid JSON.
type UpstreamError struct {
	// URL is the request URL with credentials redacted.
	URL string

	// StatusCode is 0 for transport failures.
	StatusCode int
	Message    string
	Malformed  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Malformed:
		return fmt.Sprintf("upstream %s: malformed response (status %d)", e.URL, e.StatusCode)
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("upstream %s: status %d: %s", e.URL, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %s: %v", e.URL, e.Message, e.Err)
	default:
		return fmt.Sprintf("upstream %s: %s", e.URL, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// transportError strips the *url.Error wrapper, whose message repeats the
// unredacted request URL.
func transportError(rawURL string, err error) *UpstreamError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return &UpstreamError{
		URL:     config.RedactURL(rawURL),
		Message: "request failed",
		Err:     err,
	}
}
