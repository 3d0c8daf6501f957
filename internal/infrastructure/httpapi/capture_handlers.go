package httpapi

import (
	"errors"
	"net/http"

	"request-recorder/internal/capture"
	"request-recorder/internal/domain"
)

type controlResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Session *domain.CaptureSession `json:"session,omitempty"`
}

func (d *Deps) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET", nil)
		return
	}
	capturing, sess := d.Engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{"isCapturing": capturing, "session": sess})
}

func (d *Deps) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	sess, err := d.Engine.Start(r.Context())
	if err != nil {
		if errors.Is(err, capture.ErrAlreadyCapturing) {
			writeJSON(w, http.StatusConflict, controlResult{Success: false, Error: err.Error(), Session: &sess})
			return
		}
		writeJSON(w, http.StatusInternalServerError, controlResult{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResult{Success: true, Session: &sess})
}

func (d *Deps) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	sess, err := d.Engine.Stop(r.Context(), domain.StopManual)
	if err != nil {
		if errors.Is(err, capture.ErrNotCapturing) {
			writeJSON(w, http.StatusConflict, controlResult{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, controlResult{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResult{Success: true, Session: &sess})
}
