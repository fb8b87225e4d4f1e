package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// showTrack plots the world-space X/Z positions of recent snapshots as a PNG
// track map. Race-off samples are skipped since the game zeroes position in
// menus.
func (s *Server) showTrack(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "storage not enabled")
		return
	}
	limit, ok := s.limitParam(w, r, 3600)
	if !ok {
		return
	}
	session := s.sessionParam(r)

	stored, err := s.db.RecentSnapshots(session, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve snapshots: "+err.Error())
		return
	}

	pts := make(plotter.XYs, 0, len(stored))
	for _, st := range stored {
		if !st.Snapshot.RaceOn() {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(st.Snapshot.Position.X), Y: float64(st.Snapshot.Position.Z)})
	}
	if len(pts) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no race-on snapshots to plot")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track (%d samples)", len(pts))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "z (m)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build track line: %v", err))
		return
	}
	line.Width = vg.Points(1.5)
	line.Color = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	p.Add(line)

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render track: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render track: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
