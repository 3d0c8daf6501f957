package httpapi

import (
	"encoding/json"
	"net/http"

	"request-recorder/internal/usecase"
)

func (d *Deps) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := d.Svc.GetSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SETTINGS_GET_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var settings usecase.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid settings body", nil)
			return
		}
		if settings.Pagination.PageSize <= 0 {
			settings.Pagination.PageSize = d.Cfg.PageSize
		}
		if err := d.Svc.UpdateSettings(r.Context(), settings); err != nil {
			writeError(w, http.StatusInternalServerError, "SETTINGS_UPDATE_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or PUT", nil)
	}
}
