package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

const (
	streamBuffer  = 16
	writeDeadline = 5 * time.Second
)

// streamTelemetry upgrades to a websocket and pushes one JSON TelemetryView
// per frame. ?hz= caps the push rate; the game sends about 60 per second.
func (s *Server) streamTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "live telemetry not enabled")
		return
	}

	var minGap time.Duration
	if v := r.URL.Query().Get("hz"); v != "" {
		hz, err := strconv.Atoi(v)
		if err != nil || hz < 1 || hz > 1000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'hz' parameter")
			return
		}
		minGap = time.Second / time.Duration(hz)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	frames, cancel := s.hub.Subscribe(streamBuffer)
	defer cancel()

	// Drain client messages so close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var last time.Time
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if minGap > 0 && !last.IsZero() && f.ReceivedAt.Sub(last) < minGap {
				continue
			}
			data, err := json.Marshal(s.view(f))
			if err != nil {
				monitoring.Logf("skipping unencodable frame: %v", err)
				continue
			}
			last = f.ReceivedAt
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					monitoring.Logf("websocket write failed: %v", err)
				}
				return
			}
		}
	}
}
