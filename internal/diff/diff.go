// Package diff computes structural differences between two captured request
// records for the compare view. Pure functions, no mutation of inputs.
package diff

import (
	"bytes"
	"encoding/json"
	"maps"

	"request-recorder/internal/domain"
)

type StringChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type IntChange struct {
	Old int `json:"old"`
	New int `json:"new"`
}

type HeadersChange struct {
	Old map[string]string `json:"old"`
	New map[string]string `json:"new"`
}

type ValueChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type RequestDiff struct {
	URL     *StringChange  `json:"url,omitempty"`
	Method  *StringChange  `json:"method,omitempty"`
	Headers *HeadersChange `json:"headers,omitempty"`
	Body    *ValueChange   `json:"body,omitempty"`
}

type ResponseDiff struct {
	Status  *IntChange     `json:"status,omitempty"`
	Headers *HeadersChange `json:"headers,omitempty"`
	Body    *ValueChange   `json:"body,omitempty"`
}

type Result struct {
	RequestDiff  RequestDiff  `json:"requestDiff"`
	ResponseDiff ResponseDiff `json:"responseDiff"`
}

// Compare diffs two records field by field. A field appears in the result
// only when the values differ: literal equality for url/method/status,
// value-based deep equality for headers and bodies (a nil header map and an
// empty one compare equal).
func Compare(a, b domain.CapturedRequest) Result {
	var res Result

	if a.URL != b.URL {
		res.RequestDiff.URL = &StringChange{Old: a.URL, New: b.URL}
	}
	if a.Method != b.Method {
		res.RequestDiff.Method = &StringChange{Old: a.Method, New: b.Method}
	}
	if !headersEqual(a.RequestHeaders, b.RequestHeaders) {
		res.RequestDiff.Headers = &HeadersChange{Old: a.RequestHeaders, New: b.RequestHeaders}
	}
	if !jsonEqual(a.RequestBody, b.RequestBody) {
		res.RequestDiff.Body = &ValueChange{Old: bodyValue(a.RequestBody), New: bodyValue(b.RequestBody)}
	}

	ra, rb := a.Response, b.Response
	if ra == nil {
		ra = &domain.Response{}
	}
	if rb == nil {
		rb = &domain.Response{}
	}
	if ra.Status != rb.Status {
		res.ResponseDiff.Status = &IntChange{Old: ra.Status, New: rb.Status}
	}
	if !headersEqual(ra.Headers, rb.Headers) {
		res.ResponseDiff.Headers = &HeadersChange{Old: ra.Headers, New: rb.Headers}
	}
	if !jsonEqual(ra.Body, rb.Body) {
		res.ResponseDiff.Body = &ValueChange{Old: ra.Body, New: rb.Body}
	}
	return res
}

func headersEqual(a, b map[string]string) bool {
	return maps.Equal(a, b)
}

// jsonEqual compares two values by their canonical JSON encoding, so
// structurally identical values compare equal regardless of in-memory
// representation.
func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return aerr == nil && berr == nil
	}
	return bytes.Equal(ab, bb)
}

// bodyValue unwraps the capture-time tagged union into the value shown in
// the diff view.
func bodyValue(b *domain.Body) any {
	if b == nil {
		return nil
	}
	switch b.Kind {
	case domain.BodyJSON:
		var v any
		if err := json.Unmarshal(b.JSON, &v); err == nil {
			return v
		}
		return string(b.JSON)
	case domain.BodyText:
		return b.Text
	default:
		return b.Raw
	}
}
