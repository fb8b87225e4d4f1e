package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/forza-telemetry/internal/db"
	"github.com/banshee-data/forza-telemetry/internal/forza/live"
	"github.com/banshee-data/forza-telemetry/internal/forza/monitor"
	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/monitoring"
	"github.com/banshee-data/forza-telemetry/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatsProvider is the read side of monitor.PacketStats.
type StatsProvider interface {
	GetLatestSnapshot() *monitor.StatsSnapshot
	Totals() monitor.Totals
}

// Server serves the telemetry HTTP API. Any of its dependencies may be nil;
// the routes that need a missing one answer 503.
type Server struct {
	db        *db.DB
	hub       *live.Hub
	stats     StatsProvider
	units     string
	sessionID string
	upgrader  websocket.Upgrader
}

func NewServer(database *db.DB, hub *live.Hub, stats StatsProvider, units string) *Server {
	return &Server{
		db:    database,
		hub:   hub,
		stats: stats,
		units: units,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// SetSession sets the session used when a request does not name one.
func (s *Server) SetSession(id string) {
	s.sessionID = id
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry/latest", s.showLatest)
	mux.HandleFunc("/api/telemetry/recent", s.listRecent)
	mux.HandleFunc("/api/telemetry/stats", s.showStats)
	mux.HandleFunc("/api/telemetry/sessions", s.listSessions)
	mux.HandleFunc("/api/telemetry/laps", s.listLaps)
	mux.HandleFunc("/api/telemetry/layout", s.showLayout)
	mux.HandleFunc("/api/telemetry/chart", s.showChart)
	mux.HandleFunc("/api/telemetry/track.png", s.showTrack)
	mux.HandleFunc("/api/telemetry/stream", s.streamTelemetry)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON encodes before writing so an unencodable value (a NaN float from
// a garbage packet) becomes a 500 rather than a truncated 200.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("failed to encode response: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}

// TelemetryView is a snapshot as served to clients, with speed converted to
// the configured units.
type TelemetryView struct {
	ReceivedAt time.Time      `json:"received_at"`
	Source     string         `json:"source,omitempty"`
	Speed      float64        `json:"speed"`
	Units      string         `json:"units"`
	Snapshot   parse.Snapshot `json:"snapshot"`
}

func (s *Server) view(f network.Frame) TelemetryView {
	return TelemetryView{
		ReceivedAt: f.ReceivedAt,
		Source:     f.Source,
		Speed:      units.ConvertSpeed(float64(f.Snapshot.Speed), s.units),
		Units:      s.units,
		Snapshot:   f.Snapshot,
	}
}

func allowGet(s *Server, w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.hub == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "live telemetry not enabled")
		return
	}
	f, ok := s.hub.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no telemetry received yet")
		return
	}
	s.writeJSON(w, s.view(f))
}

func (s *Server) listRecent(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "storage not enabled")
		return
	}
	limit, ok := s.limitParam(w, r, 100)
	if !ok {
		return
	}

	stored, err := s.db.RecentSnapshots(s.sessionParam(r), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve snapshots: "+err.Error())
		return
	}
	views := make([]TelemetryView, 0, len(stored))
	for _, st := range stored {
		views = append(views, s.view(network.Frame{Snapshot: st.Snapshot, ReceivedAt: st.ReceivedAt, Source: st.SessionID}))
	}
	s.writeJSON(w, views)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.stats == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "stats not enabled")
		return
	}
	resp := struct {
		Latest      *monitor.StatsSnapshot `json:"latest"`
		Totals      monitor.Totals         `json:"totals"`
		Subscribers int                    `json:"subscribers"`
	}{
		Latest: s.stats.GetLatestSnapshot(),
		Totals: s.stats.Totals(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Subscribers()
	}
	s.writeJSON(w, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "storage not enabled")
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	s.writeJSON(w, sessions)
}

func (s *Server) listLaps(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "storage not enabled")
		return
	}
	session := s.sessionParam(r)
	if session == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'session' parameter")
		return
	}
	laps, err := s.db.LapSummaries(session)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve laps: "+err.Error())
		return
	}
	for i := range laps {
		laps[i].TopSpeedMPS = units.ConvertSpeed(laps[i].TopSpeedMPS, s.units)
		laps[i].AvgSpeedMPS = units.ConvertSpeed(laps[i].AvgSpeedMPS, s.units)
	}
	if laps == nil {
		laps = []db.LapSummary{}
	}
	s.writeJSON(w, map[string]any{"session_id": session, "units": s.units, "laps": laps})
}

type layoutField struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Width  int    `json:"width"`
	Kind   string `json:"kind"`
}

func (s *Server) showLayout(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	fields := parse.Layout()
	out := make([]layoutField, 0, len(fields))
	for _, f := range fields {
		out = append(out, layoutField{Name: f.Name, Offset: f.Offset, Width: f.Width, Kind: f.Kind.String()})
	}
	reserved := parse.Reserved()
	s.writeJSON(w, map[string]any{
		"message_size": parse.MESSAGE_SIZE,
		"reserved":     map[string]int{"start": reserved.Start, "end": reserved.End},
		"fields":       out,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"units":      s.units,
		"session_id": s.sessionID,
	})
}

func (s *Server) sessionParam(r *http.Request) string {
	if v := r.URL.Query().Get("session"); v != "" {
		return v
	}
	return s.sessionID
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 10000 {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return 0, false
	}
	return n, true
}
