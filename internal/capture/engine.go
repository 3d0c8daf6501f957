package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"request-recorder/internal/domain"
	obs "request-recorder/internal/infrastructure/observability"
	"request-recorder/internal/usecase"
)

var (
	ErrAlreadyCapturing = errors.New("a capture session is already active")
	ErrNotCapturing     = errors.New("no capture session is active")
)

const supervisorInterval = time.Second

// Options bound a capture session and the correlation table.
type Options struct {
	MaxInflight        int
	SessionMaxDuration time.Duration
	SessionMaxRequests int
}

// Engine owns the whole capture pipeline: it correlates phase events into
// CapturedRequest records keyed by the observer's native request id, enforces
// the in-flight ceiling, replays completed requests for their bodies and
// hands them to the persister. It also plays session controller: start/stop,
// duration and request-count limits.
//
// An in-flight record is owned exclusively by the engine and is removed from
// the table on every terminal phase before any asynchronous work starts, so
// a native id reused by the browser can never hit a stale entry.
type Engine struct {
	opts      Options
	svc       *usecase.SessionService
	replayer  *Replayer
	persister *Persister
	guard     MemoryGuard
	logger    *zerolog.Logger
	metrics   *obs.Metrics
	now       func() time.Time

	// Notify, when set, receives lifecycle events for UI broadcast.
	Notify func(event, id string)

	mu        sync.Mutex
	capturing bool
	session   *domain.CaptureSession
	inflight  map[domain.NativeRequestID]*domain.CapturedRequest
	startedAt time.Time
	stopCh    chan struct{}

	enqueued atomic.Int64
	replays  sync.WaitGroup
}

func NewEngine(opts Options, svc *usecase.SessionService, replayer *Replayer, persister *Persister, logger *zerolog.Logger, metrics *obs.Metrics) *Engine {
	return &Engine{
		opts:      opts,
		svc:       svc,
		replayer:  replayer,
		persister: persister,
		guard:     MemoryGuard{Ceiling: opts.MaxInflight},
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		inflight:  make(map[domain.NativeRequestID]*domain.CapturedRequest),
	}
}

// Status reports whether capture is active and the current (or last) session.
func (e *Engine) Status() (bool, *domain.CaptureSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return e.capturing, nil
	}
	sess := *e.session
	return e.capturing, &sess
}

// Start opens a new capture session. Starting while a session is already
// capturing is rejected and the existing session is returned alongside
// ErrAlreadyCapturing.
func (e *Engine) Start(ctx context.Context) (domain.CaptureSession, error) {
	e.mu.Lock()
	if e.capturing {
		sess := *e.session
		e.mu.Unlock()
		return sess, ErrAlreadyCapturing
	}
	sess := domain.NewCaptureSession(e.now())
	e.session = &sess
	e.inflight = make(map[domain.NativeRequestID]*domain.CapturedRequest)
	e.enqueued.Store(0)
	e.startedAt = e.now()
	e.capturing = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	if err := e.svc.CreateSession(ctx, sess); err != nil {
		e.mu.Lock()
		e.capturing = false
		e.session = nil
		e.mu.Unlock()
		return domain.CaptureSession{}, err
	}
	e.metrics.InflightRequests.Set(0)
	go e.supervise(stopCh)
	e.logger.Info().Str("sessionId", sess.ID).Msg("capture started")
	e.notify("session_started", sess.ID)
	return sess, nil
}

// supervise enforces the session duration and request-count ceilings while
// capturing.
func (e *Engine) supervise(stopCh chan struct{}) {
	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			capturing := e.capturing
			elapsed := e.now().Sub(e.startedAt)
			e.mu.Unlock()
			if !capturing {
				return
			}
			if e.opts.SessionMaxDuration > 0 && elapsed >= e.opts.SessionMaxDuration {
				if _, err := e.Stop(context.Background(), domain.StopTimeout); err != nil && !errors.Is(err, ErrNotCapturing) {
					e.logger.Error().Err(err).Msg("session timeout stop failed")
				}
				return
			}
			if e.opts.SessionMaxRequests > 0 && int(e.enqueued.Load()) >= e.opts.SessionMaxRequests {
				if _, err := e.Stop(context.Background(), domain.StopLimit); err != nil && !errors.Is(err, ErrNotCapturing) {
					e.logger.Error().Err(err).Msg("session limit stop failed")
				}
				return
			}
		}
	}
}

// Stop ends the active session: the capturing flag drops immediately so no
// new phase events are accepted during cleanup, pending replays are awaited,
// the save queue is drained synchronously and the session is marked
// completed. No queued record is lost on a clean stop.
func (e *Engine) Stop(ctx context.Context, reason domain.StopReason) (domain.CaptureSession, error) {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return domain.CaptureSession{}, ErrNotCapturing
	}
	e.capturing = false
	sess := *e.session
	e.inflight = make(map[domain.NativeRequestID]*domain.CapturedRequest)
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.mu.Unlock()

	e.metrics.InflightRequests.Set(0)
	e.replays.Wait()
	e.persister.Drain(ctx)

	stored, ok, err := e.svc.GetSession(ctx, sess.ID)
	if err != nil {
		return sess, err
	}
	if ok {
		sess = stored
	}
	sess.Status = domain.SessionCompleted
	sess.StopReason = reason
	if err := e.svc.UpdateSession(ctx, sess); err != nil {
		return sess, err
	}
	e.mu.Lock()
	e.session = &sess
	e.mu.Unlock()
	e.logger.Info().Str("sessionId", sess.ID).Str("reason", string(reason)).Int("requestCount", sess.RequestCount).Msg("capture stopped")
	e.notify("session_completed", sess.ID)
	return sess, nil
}

// Close tears the engine down, stopping any active session first.
func (e *Engine) Close(ctx context.Context) {
	if _, err := e.Stop(ctx, domain.StopManual); err != nil && !errors.Is(err, ErrNotCapturing) {
		e.logger.Error().Err(err).Msg("stop on close failed")
	}
	e.persister.Close()
}

// OnPhaseEvent merges one observer callback into the correlation table. It
// never returns an error and never panics out of the dispatch path: capture
// faults are logged and the remaining traffic keeps flowing.
func (e *Engine) OnPhaseEvent(ctx context.Context, ev domain.PhaseEvent) {
	switch ev.Phase {
	case domain.PhaseInitiated:
		e.onInitiated(ev)
	case domain.PhaseHeadersSent:
		e.mergeHeaders(ev.RequestID, ev.RequestHeaders, true)
	case domain.PhaseHeadersReceived:
		e.mergeHeaders(ev.RequestID, ev.ResponseHeaders, false)
	case domain.PhaseCompleted:
		e.onCompleted(ev)
	case domain.PhaseError:
		e.onError(ev)
	default:
		e.logger.Debug().Str("phase", string(ev.Phase)).Msg("unknown phase event")
	}
}

func (e *Engine) onInitiated(ev domain.PhaseEvent) {
	if ev.ResourceType != "" && ev.ResourceType != domain.ResourceTypeXHR {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.capturing || e.session == nil {
		return
	}
	now := e.now()
	rec := &domain.CapturedRequest{
		ID:          domain.NewRequestID(now),
		URL:         ev.URL,
		Method:      ev.Method,
		Timestamp:   now.UnixMilli(),
		RequestBody: domain.DecodeBody(ev.Body),
	}
	e.inflight[ev.RequestID] = rec
	e.metrics.CapturedTotal.Inc()
	if evicted := e.guard.Evict(e.inflight); evicted > 0 {
		e.metrics.EvictionsTotal.Add(float64(evicted))
		e.logger.Warn().Int("evicted", evicted).Int("inflight", len(e.inflight)).Msg("in-flight table over ceiling, oldest entries dropped")
	}
	e.metrics.InflightRequests.Set(float64(len(e.inflight)))
}

// mergeHeaders folds a headers-sent or headers-received payload into the
// in-flight record. Unknown native ids (already evicted, or capture toggled
// off mid-flight) are a no-op.
func (e *Engine) mergeHeaders(id domain.NativeRequestID, headers map[string]string, request bool) {
	if len(headers) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.inflight[id]
	if !ok {
		return
	}
	if request {
		if rec.RequestHeaders == nil {
			rec.RequestHeaders = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			rec.RequestHeaders[k] = v
		}
		return
	}
	if rec.ResponseHeaders == nil {
		rec.ResponseHeaders = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		rec.ResponseHeaders[k] = v
	}
}

func (e *Engine) onCompleted(ev domain.PhaseEvent) {
	e.mu.Lock()
	rec, ok := e.inflight[ev.RequestID]
	if ok {
		// terminal phase: drop the entry before anything yields, the native
		// id may be reused immediately
		delete(e.inflight, ev.RequestID)
	}
	e.metrics.InflightRequests.Set(float64(len(e.inflight)))
	var sessionID string
	if e.session != nil {
		sessionID = e.session.ID
	}
	isReplay := ok && HasReplayMarker(rec.RequestHeaders)
	if ok && !isReplay {
		// registered under the lock so Stop cannot start waiting between
		// the table lookup and the replay goroutine
		e.replays.Add(1)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	rec.DurationMs = e.now().UnixMilli() - rec.Timestamp
	if rec.DurationMs < 0 {
		rec.DurationMs = 0
	}
	if isReplay {
		e.metrics.DroppedTotal.WithLabelValues("replay_marker").Inc()
		return
	}
	go func() {
		defer e.replays.Done()
		e.replayer.Replay(context.Background(), rec, false)
		e.enqueued.Add(1)
		e.persister.Enqueue(sessionID, *rec)
	}()
}

func (e *Engine) onError(ev domain.PhaseEvent) {
	e.mu.Lock()
	rec, ok := e.inflight[ev.RequestID]
	if ok {
		delete(e.inflight, ev.RequestID)
	}
	e.metrics.InflightRequests.Set(float64(len(e.inflight)))
	var sessionID string
	if e.session != nil {
		sessionID = e.session.ID
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if HasReplayMarker(rec.RequestHeaders) {
		e.metrics.DroppedTotal.WithLabelValues("replay_marker").Inc()
		return
	}
	rec.DurationMs = e.now().UnixMilli() - rec.Timestamp
	if rec.DurationMs < 0 {
		rec.DurationMs = 0
	}
	rec.Response = domain.ErrorResponse(ev.Error)
	e.enqueued.Add(1)
	e.persister.Enqueue(sessionID, *rec)
}

// ReplayAndSave re-issues a stored (possibly user-modified) record with the
// longer diff deadline and appends the result to the session. Used by the
// UI's resend-and-compare flow.
func (e *Engine) ReplayAndSave(ctx context.Context, sessionID string, rec domain.CapturedRequest) (domain.CapturedRequest, error) {
	if rec.ID == "" {
		rec.ID = domain.NewRequestID(e.now())
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = e.now().UnixMilli()
	}
	started := e.now()
	e.replayer.Replay(ctx, &rec, true)
	rec.DurationMs = e.now().Sub(started).Milliseconds()
	count, err := e.svc.AppendRequest(ctx, sessionID, rec)
	if err != nil {
		return rec, err
	}
	if err := e.svc.SetRequestCount(ctx, sessionID, count); err != nil {
		return rec, err
	}
	e.metrics.PersistedTotal.Inc()
	e.notify("request_saved", rec.ID)
	return rec, nil
}

func (e *Engine) notify(event, id string) {
	if e.Notify != nil {
		e.Notify(event, id)
	}
}
