package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"request-recorder/internal/adapters/storage/memory"
	"request-recorder/internal/capture"
	"request-recorder/internal/diff"
	"request-recorder/internal/domain"
	"request-recorder/internal/infrastructure/config"
	"request-recorder/internal/infrastructure/httpapi"
	obs "request-recorder/internal/infrastructure/observability"
	"request-recorder/internal/usecase"
)

type env struct {
	srv *httptest.Server
	svc *usecase.SessionService
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	cfg := config.Config{
		CORSAllowOrigin:        "*",
		MaxInflight:            100,
		SessionMaxDuration:     time.Minute,
		SessionMaxRequests:     1000,
		BatchSize:              2,
		FlushInterval:          25 * time.Millisecond,
		ReplayTimeout:          2 * time.Second,
		DiffReplayTimeout:      2 * time.Second,
		PageSize:               50,
		ExposeSensitiveHeaders: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	metrics := obs.NewMetrics()
	svc := usecase.NewSessionService(memory.NewStore())
	require.NoError(t, svc.Init(context.Background()))

	replayer := capture.NewReplayer(cfg.ReplayTimeout, cfg.DiffReplayTimeout, cfg.InsecureTLS, &logger, metrics)
	persister := capture.NewPersister(svc, cfg.BatchSize, cfg.FlushInterval, &logger, metrics)
	engine := capture.NewEngine(capture.Options{
		MaxInflight:        cfg.MaxInflight,
		SessionMaxDuration: cfg.SessionMaxDuration,
		SessionMaxRequests: cfg.SessionMaxRequests,
	}, svc, replayer, persister, &logger, metrics)

	monitor := httpapi.NewMonitorHub()
	engine.Notify = func(event, id string) {
		monitor.Broadcast(httpapi.MonitorEvent{Type: event, ID: id})
	}

	deps := &httpapi.Deps{Cfg: cfg, Logger: &logger, Metrics: metrics, Engine: engine, Svc: svc, Monitor: monitor}
	srv := httptest.NewServer(httpapi.NewRouterWithDeps(deps))
	t.Cleanup(func() {
		engine.Close(context.Background())
		srv.Close()
	})
	return &env{srv: srv, svc: svc}
}

func (e *env) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := e.srv.Client().Post(e.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func (e *env) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := e.srv.Client().Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func (e *env) dialWS(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type requestsPage struct {
	Items []domain.CapturedRequest `json:"items"`
	Total int                      `json:"total"`
}

type controlResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Session *domain.CaptureSession `json:"session,omitempty"`
}

func startUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCaptureLifecycleEndToEnd(t *testing.T) {
	e := newEnv(t, nil)
	upstream := startUpstream(t)

	var started controlResult
	resp := e.post(t, "/api/capture/start", nil, &started)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, started.Success)
	require.NotNil(t, started.Session)
	sessionID := started.Session.ID

	observer := e.dialWS(t, "/api/events/ws")
	events := []domain.PhaseEvent{
		{RequestID: "42", Phase: domain.PhaseInitiated, URL: upstream.URL + "/items", Method: "POST",
			ResourceType: domain.ResourceTypeXHR, Body: []byte(`{"name":"thing"}`)},
		{RequestID: "42", Phase: domain.PhaseHeadersSent, RequestHeaders: map[string]string{"Content-Type": "application/json"}},
		{RequestID: "42", Phase: domain.PhaseHeadersReceived, ResponseHeaders: map[string]string{"Content-Type": "application/json"}},
		{RequestID: "42", Phase: domain.PhaseCompleted, StatusCode: 200},
	}
	for _, ev := range events {
		require.NoError(t, observer.WriteJSON(ev))
	}

	var page requestsPage
	require.Eventually(t, func() bool {
		e.get(t, "/api/sessions/"+sessionID+"/requests", &page)
		return page.Total == 1
	}, 5*time.Second, 25*time.Millisecond, "the completed request must be replayed and persisted")

	rec := page.Items[0]
	assert.Equal(t, upstream.URL+"/items", rec.URL)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "application/json", rec.RequestHeaders["Content-Type"])
	require.NotNil(t, rec.RequestBody)
	require.NotNil(t, rec.Response)
	assert.Equal(t, 200, rec.Response.Status)
	assert.Equal(t, map[string]any{"path": "/items"}, rec.Response.Body)

	var stopped controlResult
	resp = e.post(t, "/api/capture/stop", nil, &stopped)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, stopped.Success)
	require.NotNil(t, stopped.Session)
	assert.Equal(t, domain.SessionCompleted, stopped.Session.Status)
	assert.Equal(t, domain.StopManual, stopped.Session.StopReason)
	assert.Equal(t, 1, stopped.Session.RequestCount)

	// a new session can start after a clean stop
	var restarted controlResult
	resp = e.post(t, "/api/capture/start", nil, &restarted)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, restarted.Success)
	assert.NotEqual(t, sessionID, restarted.Session.ID)
}

func TestStartWhileCapturingConflicts(t *testing.T) {
	e := newEnv(t, nil)

	var first controlResult
	require.Equal(t, http.StatusOK, e.post(t, "/api/capture/start", nil, &first).StatusCode)

	var second controlResult
	resp := e.post(t, "/api/capture/start", nil, &second)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, second.Success)
	require.NotNil(t, second.Session, "the conflict response carries the active session")
	assert.Equal(t, first.Session.ID, second.Session.ID)
}

func TestStopWithoutSessionConflicts(t *testing.T) {
	e := newEnv(t, nil)
	var out controlResult
	resp := e.post(t, "/api/capture/stop", nil, &out)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, out.Success)
}

func TestMonitorReceivesLifecycleEvents(t *testing.T) {
	e := newEnv(t, nil)
	mon := e.dialWS(t, "/api/monitor/ws")

	var started controlResult
	e.post(t, "/api/capture/start", nil, &started)

	require.NoError(t, mon.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev httpapi.MonitorEvent
	require.NoError(t, mon.ReadJSON(&ev))
	assert.Equal(t, "session_started", ev.Type)
	assert.Equal(t, started.Session.ID, ev.ID)

	e.post(t, "/api/capture/stop", nil, nil)
	require.NoError(t, mon.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, mon.ReadJSON(&ev))
	assert.Equal(t, "session_completed", ev.Type)
}

func TestDiffStoredRecordsByID(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	sess := domain.NewCaptureSession(time.Now())
	require.NoError(t, e.svc.CreateSession(ctx, sess))
	a := domain.CapturedRequest{ID: "a", URL: "https://x/v1", Method: "GET", Timestamp: 1}
	b := domain.CapturedRequest{ID: "b", URL: "https://x/v2", Method: "GET", Timestamp: 2}
	_, err := e.svc.AppendRequest(ctx, sess.ID, a)
	require.NoError(t, err)
	_, err = e.svc.AppendRequest(ctx, sess.ID, b)
	require.NoError(t, err)

	var res diff.Result
	resp := e.post(t, "/api/diff", map[string]string{"sessionId": sess.ID, "aId": "a", "bId": "b"}, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, res.RequestDiff.URL)
	assert.Equal(t, "https://x/v1", res.RequestDiff.URL.Old)
	assert.Equal(t, "https://x/v2", res.RequestDiff.URL.New)
	assert.Nil(t, res.RequestDiff.Method)

	resp = e.post(t, "/api/diff", map[string]string{"sessionId": sess.ID, "aId": "a", "bId": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReplayAndSaveWithModifications(t *testing.T) {
	e := newEnv(t, nil)
	upstream := startUpstream(t)
	ctx := context.Background()

	sess := domain.CaptureSession{ID: "s1", Status: domain.SessionCompleted}
	require.NoError(t, e.svc.CreateSession(ctx, sess))

	body := map[string]any{
		"request": domain.CapturedRequest{
			ID:     "orig",
			URL:    upstream.URL + "/old",
			Method: "GET",
		},
		"modifications": map[string]any{"url": upstream.URL + "/new"},
	}
	var saved domain.CapturedRequest
	resp := e.post(t, "/api/sessions/s1/requests/replay", body, &saved)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEqual(t, "orig", saved.ID, "the saved variant gets a fresh identity")
	assert.Equal(t, upstream.URL+"/new", saved.URL)
	require.NotNil(t, saved.Response)
	assert.Equal(t, 200, saved.Response.Status)
	assert.Equal(t, map[string]any{"path": "/new"}, saved.Response.Body)

	var page requestsPage
	e.get(t, "/api/sessions/s1/requests", &page)
	assert.Equal(t, 1, page.Total)

	got, ok, err := e.svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.RequestCount)
}

func TestSensitiveHeadersMaskedWhenDisabled(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.ExposeSensitiveHeaders = false })
	ctx := context.Background()

	sess := domain.CaptureSession{ID: "s1", Status: domain.SessionCompleted}
	require.NoError(t, e.svc.CreateSession(ctx, sess))
	_, err := e.svc.AppendRequest(ctx, sess.ID, domain.CapturedRequest{
		ID: "a", URL: "https://x", Method: "GET", Timestamp: 1,
		RequestHeaders: map[string]string{"Authorization": "Bearer secret", "Accept": "application/json"},
	})
	require.NoError(t, err)

	var page requestsPage
	e.get(t, "/api/sessions/s1/requests", &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "***", page.Items[0].RequestHeaders["Authorization"])
	assert.Equal(t, "application/json", page.Items[0].RequestHeaders["Accept"])
}

func TestSettingsRoundTrip(t *testing.T) {
	e := newEnv(t, nil)

	var settings usecase.Settings
	e.get(t, "/api/settings", &settings)
	assert.Equal(t, 50, settings.Pagination.PageSize)

	settings.Pagination = usecase.Pagination{Page: 1, PageSize: 10}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(settings))
	req, err := http.NewRequest(http.MethodPut, e.srv.URL+"/api/settings", &buf)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got usecase.Settings
	e.get(t, "/api/settings", &got)
	assert.Equal(t, usecase.Pagination{Page: 1, PageSize: 10}, got.Pagination)
}

func TestClearAllSessions(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.svc.CreateSession(ctx, domain.CaptureSession{ID: fmt.Sprintf("s%d", i), Status: domain.SessionCompleted}))
	}

	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/api/sessions", nil)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var list struct {
		Total int `json:"total"`
	}
	e.get(t, "/api/sessions", &list)
	assert.Zero(t, list.Total)
}

func TestMalformedObserverEventsAreSkipped(t *testing.T) {
	e := newEnv(t, nil)
	upstream := startUpstream(t)

	var started controlResult
	e.post(t, "/api/capture/start", nil, &started)
	observer := e.dialWS(t, "/api/events/ws")

	// garbage and incomplete events must not take the ingest loop down
	require.NoError(t, observer.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, observer.WriteMessage(websocket.TextMessage, []byte(`{"phase":"initiated"}`)))

	events := []domain.PhaseEvent{
		{RequestID: "7", Phase: domain.PhaseInitiated, URL: upstream.URL, Method: "GET", ResourceType: domain.ResourceTypeXHR},
		{RequestID: "7", Phase: domain.PhaseCompleted, StatusCode: 200},
	}
	for _, ev := range events {
		require.NoError(t, observer.WriteJSON(ev))
	}

	var page requestsPage
	require.Eventually(t, func() bool {
		e.get(t, "/api/sessions/"+started.Session.ID+"/requests", &page)
		return page.Total == 1
	}, 5*time.Second, 25*time.Millisecond)
}
