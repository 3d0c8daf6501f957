package httpapi

import (
	"encoding/json"
	"net/http"

	"request-recorder/internal/diff"
	"request-recorder/internal/domain"
)

// handleDiff compares two records, passed inline or referenced by id within
// a persisted session.
func (d *Deps) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	var body struct {
		A         *domain.CapturedRequest `json:"a,omitempty"`
		B         *domain.CapturedRequest `json:"b,omitempty"`
		SessionID string                  `json:"sessionId,omitempty"`
		AID       string                  `json:"aId,omitempty"`
		BID       string                  `json:"bId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid diff body", nil)
		return
	}
	a, b := body.A, body.B
	if a == nil || b == nil {
		if body.SessionID == "" || body.AID == "" || body.BID == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "either a/b records or sessionId with aId/bId required", nil)
			return
		}
		ra, ok, err := d.Svc.GetRequest(r.Context(), body.SessionID, body.AID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "REQUEST_GET_FAILED", err.Error(), map[string]any{"id": body.AID})
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "request not found", map[string]any{"id": body.AID})
			return
		}
		rb, ok, err := d.Svc.GetRequest(r.Context(), body.SessionID, body.BID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "REQUEST_GET_FAILED", err.Error(), map[string]any{"id": body.BID})
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "request not found", map[string]any{"id": body.BID})
			return
		}
		a, b = &ra, &rb
	}
	writeJSON(w, http.StatusOK, diff.Compare(*a, *b))
}
