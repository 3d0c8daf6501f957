package capture

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"request-recorder/internal/domain"
	obs "request-recorder/internal/infrastructure/observability"
)

// ReplayMarkerHeader tags replay requests so the correlator can recognize a
// self-originated request and keep it out of the capture loop. Matched
// case-insensitively.
const ReplayMarkerHeader = "X-Capture-Replay"

const replayBodyMaxBytes = 8 << 20

// Replayer re-issues a completed request to obtain the response body the
// observation API cannot expose. This costs one extra round-trip per captured
// request and re-invokes non-idempotent endpoints; a known limitation of
// capture-by-replay, documented rather than hidden.
type Replayer struct {
	client      *http.Client
	timeout     time.Duration
	diffTimeout time.Duration
	logger      *zerolog.Logger
	metrics     *obs.Metrics
}

func NewReplayer(timeout, diffTimeout time.Duration, insecureTLS bool, logger *zerolog.Logger, metrics *obs.Metrics) *Replayer {
	tr := &http.Transport{
		MaxIdleConns:        32,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if insecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		logger.Warn().Err(err).Msg("replay transport: http2 configuration failed, staying on h1")
	}
	return &Replayer{
		client:      &http.Client{Transport: tr},
		timeout:     timeout,
		diffTimeout: diffTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Replay re-issues rec and fills rec.Response in place. It never returns an
// error: timeouts and network failures leave an error-shaped response so the
// pipeline always completes. userInitiated selects the longer diff deadline.
func (r *Replayer) Replay(ctx context.Context, rec *domain.CapturedRequest, userInitiated bool) {
	deadline := r.timeout
	if userInitiated {
		deadline = r.diffTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var body io.Reader
	if b := rec.RequestBody.Bytes(); len(b) > 0 {
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, rec.Method, rec.URL, body)
	if err != nil {
		r.fail(rec, err)
		return
	}
	for k, v := range rec.RequestHeaders {
		switch strings.ToLower(k) {
		case "host", "content-length", "connection":
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set(ReplayMarkerHeader, "1")

	resp, err := r.client.Do(req)
	if err != nil {
		r.fail(rec, err)
		return
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, replayBodyMaxBytes))
	if err != nil {
		r.fail(rec, err)
		return
	}
	rec.Response = &domain.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       decodeResponseBody(resp.Header.Get("Content-Type"), raw),
	}
}

func (r *Replayer) fail(rec *domain.CapturedRequest, err error) {
	r.metrics.ReplayErrorsTotal.Inc()
	r.logger.Debug().Err(err).Str("url", rec.URL).Msg("replay failed")
	rec.Response = domain.ErrorResponse(err.Error())
}

// decodeResponseBody applies content negotiation: JSON content types are
// parsed, with a raw-text fallback when parsing fails.
func decodeResponseBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

// HasReplayMarker reports whether a captured header map carries the replay
// marker, matching the header name case-insensitively.
func HasReplayMarker(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, ReplayMarkerHeader) {
			return true
		}
	}
	return false
}
