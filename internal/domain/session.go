package domain

import (
	"strconv"
	"time"
)

type SessionStatus string

const (
	SessionCapturing SessionStatus = "capturing"
	SessionCompleted SessionStatus = "completed"
)

// StopReason distinguishes why a session left the capturing state.
type StopReason string

const (
	StopManual  StopReason = "manual"
	StopTimeout StopReason = "timeout"
	StopLimit   StopReason = "limit"
)

type CaptureSession struct {
	ID           string        `json:"id"`
	Timestamp    int64         `json:"timestamp"` // ms since epoch
	Status       SessionStatus `json:"status"`
	RequestCount int           `json:"requestCount"`
	StopReason   StopReason    `json:"stopReason,omitempty"`
}

// NewCaptureSession creates a capturing session with a creation-time-derived
// sortable id.
func NewCaptureSession(now time.Time) CaptureSession {
	ms := now.UnixMilli()
	return CaptureSession{
		ID:        strconv.FormatInt(ms, 10),
		Timestamp: ms,
		Status:    SessionCapturing,
	}
}
