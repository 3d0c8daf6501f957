package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"request-recorder/internal/domain"
	"request-recorder/internal/usecase"
	"request-recorder/pkg/shared/redact"
)

func (d *Deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := d.Svc.Sessions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSIONS_LIST_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sessions, "total": len(sessions)})
	case http.MethodDelete:
		var body struct {
			IDs []string `json:"ids"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		if len(body.IDs) > 0 {
			if err := d.Svc.DeleteSessions(r.Context(), body.IDs); err != nil {
				writeError(w, http.StatusInternalServerError, "SESSIONS_DELETE_FAILED", err.Error(), nil)
				return
			}
		} else {
			if err := d.Svc.ClearAll(r.Context()); err != nil {
				writeError(w, http.StatusInternalServerError, "SESSIONS_CLEAR_FAILED", err.Error(), nil)
				return
			}
		}
		d.Monitor.Broadcast(MonitorEvent{Type: "sessions_cleared", ID: "*"})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or DELETE", nil)
	}
}

func (d *Deps) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	// path: /api/sessions/{id}[/requests[/replay]]
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	if len(parts) == 1 {
		d.handleSession(w, r, id)
		return
	}
	switch strings.Join(parts[1:], "/") {
	case "requests":
		d.handleSessionRequests(w, r, id)
	case "requests/replay":
		d.handleReplayAndSave(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	}
}

func (d *Deps) handleSession(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, ok, err := d.Svc.GetSession(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_GET_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found", map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodPatch, http.MethodPut:
		var sess domain.CaptureSession
		if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session body", nil)
			return
		}
		sess.ID = id
		if err := d.Svc.UpdateSession(r.Context(), sess); err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_UPDATE_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := d.Svc.DeleteSession(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_DELETE_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET, PATCH or DELETE", nil)
	}
}

func (d *Deps) handleSessionRequests(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		if pageSize <= 0 {
			pageSize = d.Cfg.PageSize
		}
		p := &usecase.Pagination{Page: page, PageSize: pageSize}
		var q *usecase.Search
		if query := r.URL.Query().Get("q"); query != "" {
			q = &usecase.Search{Query: query, Fields: parseSearchFields(r.URL.Query().Get("fields"))}
		}
		items, total, err := d.Svc.SessionRequests(r.Context(), id, p, q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "REQUESTS_LIST_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		if !d.Cfg.ExposeSensitiveHeaders {
			for i := range items {
				items[i] = redactRecord(items[i])
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "page": page, "pageSize": pageSize})
	case http.MethodDelete:
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "ids required", nil)
			return
		}
		if err := d.Svc.DeleteRequests(r.Context(), id, body.IDs); err != nil {
			writeError(w, http.StatusInternalServerError, "REQUESTS_DELETE_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or DELETE", nil)
	}
}

// handleReplayAndSave re-issues a stored record, optionally with user
// modifications, and appends the outcome to the session for diffing.
func (d *Deps) handleReplayAndSave(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	var body struct {
		Request       domain.CapturedRequest `json:"request"`
		Modifications *struct {
			URL     string            `json:"url,omitempty"`
			Method  string            `json:"method,omitempty"`
			Headers map[string]string `json:"headers,omitempty"`
			Body    json.RawMessage   `json:"body,omitempty"`
		} `json:"modifications,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if _, ok, err := d.Svc.GetSession(r.Context(), id); err != nil || !ok {
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SESSION_GET_FAILED", err.Error(), map[string]any{"id": id})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found", map[string]any{"id": id})
		return
	}
	rec := body.Request
	if mod := body.Modifications; mod != nil {
		if mod.URL != "" {
			rec.URL = mod.URL
		}
		if mod.Method != "" {
			rec.Method = mod.Method
		}
		if len(mod.Headers) > 0 {
			if rec.RequestHeaders == nil {
				rec.RequestHeaders = make(map[string]string, len(mod.Headers))
			}
			for k, v := range mod.Headers {
				rec.RequestHeaders[k] = v
			}
		}
		if len(mod.Body) > 0 {
			rec.RequestBody = domain.DecodeBody(mod.Body)
		}
	}
	if rec.URL == "" || rec.Method == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request url and method required", nil)
		return
	}
	// fresh identity: the saved variant is a new record, not an overwrite
	rec.ID = ""
	rec.Response = nil
	saved, err := d.Engine.ReplayAndSave(r.Context(), id, rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "REPLAY_SAVE_FAILED", err.Error(), map[string]any{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func parseSearchFields(csv string) usecase.SearchFields {
	if csv == "" {
		return usecase.SearchFields{URL: true}
	}
	var f usecase.SearchFields
	for _, field := range strings.Split(csv, ",") {
		switch strings.TrimSpace(field) {
		case "url":
			f.URL = true
		case "requestHeaders":
			f.RequestHeaders = true
		case "requestBody":
			f.RequestBody = true
		case "responseHeaders":
			f.ResponseHeaders = true
		case "responseBody":
			f.ResponseBody = true
		}
	}
	return f
}

func redactRecord(rec domain.CapturedRequest) domain.CapturedRequest {
	rec.RequestHeaders = redact.Headers(rec.RequestHeaders)
	rec.ResponseHeaders = redact.Headers(rec.ResponseHeaders)
	if rec.Response != nil {
		resp := *rec.Response
		resp.Headers = redact.Headers(resp.Headers)
		rec.Response = &resp
	}
	return rec
}
