package domain

import (
	"encoding/json"
	"unicode/utf8"
)

type BodyKind string

const (
	BodyJSON        BodyKind = "json"
	BodyText        BodyKind = "text"
	BodyUnparseable BodyKind = "raw"
)

// Body is the captured request payload, decoded exactly once at capture time.
// Exactly one of JSON/Text/Raw is set depending on Kind.
type Body struct {
	Kind BodyKind        `json:"kind"`
	JSON json.RawMessage `json:"json,omitempty"`
	Text string          `json:"text,omitempty"`
	Raw  []byte          `json:"raw,omitempty"` // base64 in JSON
}

// DecodeBody classifies raw request bytes: valid JSON, then UTF-8 text, then
// opaque bytes. Returns nil for an empty payload.
func DecodeBody(raw []byte) *Body {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		b := make(json.RawMessage, len(raw))
		copy(b, raw)
		return &Body{Kind: BodyJSON, JSON: b}
	}
	if utf8.Valid(raw) {
		return &Body{Kind: BodyText, Text: string(raw)}
	}
	b := make([]byte, len(raw))
	copy(b, raw)
	return &Body{Kind: BodyUnparseable, Raw: b}
}

// Bytes returns the payload as wire bytes for replaying the request.
func (b *Body) Bytes() []byte {
	if b == nil {
		return nil
	}
	switch b.Kind {
	case BodyJSON:
		return []byte(b.JSON)
	case BodyText:
		return []byte(b.Text)
	default:
		return b.Raw
	}
}
