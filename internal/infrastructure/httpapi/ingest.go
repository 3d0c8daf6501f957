package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"request-recorder/internal/domain"
)

var ingestUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handleEventsWS accepts the browser-side observer's phase-event stream.
// Each text message is one JSON PhaseEvent. Malformed messages are logged and
// skipped; an event must never take the ingest loop down with it.
func (d *Deps) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	c, err := ingestUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()
	d.Logger.Debug().Str("remote", r.RemoteAddr).Msg("observer connected")
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			d.Logger.Debug().Str("remote", r.RemoteAddr).Msg("observer disconnected")
			return
		}
		var ev domain.PhaseEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			d.Logger.Warn().Err(err).Msg("malformed phase event, skipped")
			continue
		}
		if ev.RequestID == "" || ev.Phase == "" {
			d.Logger.Warn().Msg("phase event missing requestId or phase, skipped")
			continue
		}
		d.Engine.OnPhaseEvent(context.Background(), ev)
	}
}
