package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NativeRequestID is the observer-assigned identifier of one in-flight
// request. It is only valid for the lifetime of that request and may be
// reused by the browser afterwards, so it is never persisted as identity.
type NativeRequestID string

// CapturedRequest is a single logical request assembled from phase events.
// While in flight it is owned exclusively by the capture engine; once handed
// to the persister it must not be mutated again.
type CapturedRequest struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Timestamp       int64             `json:"timestamp"` // ms since epoch, set at first phase
	DurationMs      int64             `json:"duration,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     *Body             `json:"requestBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Response        *Response         `json:"response,omitempty"`
}

// Response is filled in by the replayer, or error-shaped when the replay or
// the original request failed.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ErrorResponse builds the error-shaped response used on replay failures and
// network errors reported by the observer.
func ErrorResponse(msg string) *Response {
	return &Response{Status: 0, StatusText: "Error", Error: msg}
}

// NewRequestID returns a process-unique logical id: creation time in ms plus
// a random suffix. Sortable by creation time, distinct from NativeRequestID.
func NewRequestID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}
