package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	// ErrNoClient is returned when an operation is attempted without a transport.
	ErrNoClient = errors.New("elasticsearch client is nil")
	// ErrInvalidQuery is returned when a search body is not valid JSON.
	ErrInvalidQuery = errors.New("search body is not valid JSON")
)

// RequestError is a non-2xx response from Elasticsearch.
type RequestError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *RequestError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("elasticsearch returned status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

// Retryable reports whether the request may succeed if sent again.
func (e *RequestError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// errorBody is the shape of an Elasticsearch error response. The "error"
// member is an object for API errors and a plain string for some proxies.
type errorBody struct {
	Error any `json:"error"`
}

func newRequestError(res *esapi.Response) *RequestError {
	rerr := &RequestError{StatusCode: res.StatusCode}
	if res.Body == nil {
		return rerr
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return rerr
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		rerr.Reason = strings.TrimSpace(string(data))
		return rerr
	}

	switch e := body.Error.(type) {
	case string:
		rerr.Reason = e
	case map[string]any:
		rerr.Type, _ = e["type"].(string)
		rerr.Reason, _ = e["reason"].(string)
	}
	return rerr
}

// isRetryable reports whether a bulk request error warrants another attempt.
// Transport errors are retried unless the context is done.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Retryable()
	}
	var terr *transportError
	return errors.As(err, &terr)
}

// transportError wraps a failure to get any response at all.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "failed to execute the request: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}
