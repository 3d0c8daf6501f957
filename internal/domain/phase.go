package domain

type Phase string

const (
	PhaseInitiated       Phase = "initiated"
	PhaseHeadersSent     Phase = "headers_sent"
	PhaseHeadersReceived Phase = "headers_received"
	PhaseCompleted       Phase = "completed"
	PhaseError           Phase = "error"
)

// ResourceTypeXHR is the only resource type the pipeline captures; everything
// else (documents, images, scripts) is dropped at the initiated phase.
const ResourceTypeXHR = "xmlhttprequest"

// PhaseEvent is one normalized network-lifecycle callback from the observer.
// Which payload fields are set depends on Phase:
//
//	initiated:        URL, Method, ResourceType, Body
//	headers_sent:     RequestHeaders
//	headers_received: ResponseHeaders
//	completed:        StatusCode
//	error:            Error
type PhaseEvent struct {
	RequestID       NativeRequestID   `json:"requestId"`
	Phase           Phase             `json:"phase"`
	URL             string            `json:"url,omitempty"`
	Method          string            `json:"method,omitempty"`
	ResourceType    string            `json:"type,omitempty"`
	Body            []byte            `json:"body,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	StatusCode      int               `json:"statusCode,omitempty"`
	Error           string            `json:"error,omitempty"`
}
