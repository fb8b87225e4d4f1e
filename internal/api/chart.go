package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/forza-telemetry/internal/units"
)

// showChart renders speed and engine RPM for the most recent snapshots as an
// HTML line chart.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if !allowGet(s, w, r) {
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "storage not enabled")
		return
	}
	limit, ok := s.limitParam(w, r, 600)
	if !ok {
		return
	}
	session := s.sessionParam(r)

	stored, err := s.db.RecentSnapshots(session, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve snapshots: "+err.Error())
		return
	}

	x := make([]string, 0, len(stored))
	speed := make([]opts.LineData, 0, len(stored))
	rpm := make([]opts.LineData, 0, len(stored))
	var t0 uint32
	for i, st := range stored {
		if i == 0 {
			t0 = st.Snapshot.TimestampMS
		}
		x = append(x, fmt.Sprintf("%.2f", float64(st.Snapshot.TimestampMS-t0)/1000))
		speed = append(speed, opts.LineData{Value: units.ConvertSpeed(float64(st.Snapshot.Speed), s.units)})
		rpm = append(rpm, opts.LineData{Value: st.Snapshot.CurrentEngineRPM})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Forza Telemetry", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed and engine RPM", Subtitle: fmt.Sprintf("session=%s samples=%d", session, len(stored))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "rpm"})
	line.SetXAxis(x).
		AddSeries("speed ("+s.units+")", speed).
		AddSeries("rpm", rpm, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
