package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/banshee-data/forza-telemetry/internal/forza/monitor"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/units"
)

// inspectPacket decodes one raw packet file and prints every field with its
// position in the packet.
func inspectPacket(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := parse.Decode(data)
	if err != nil {
		return err
	}
	renderFields(w, s)
	if len(data) > parse.MESSAGE_SIZE {
		fmt.Fprintf(w, "%d trailing bytes ignored\n", len(data)-parse.MESSAGE_SIZE)
	}
	return nil
}

func renderFields(w io.Writer, s parse.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Offset", "Width", "Kind", "Value"})
	reserved := parse.Reserved()
	for _, f := range parse.Layout() {
		if f.Offset == reserved.End {
			t.AppendSeparator()
			t.AppendRow(table.Row{"(reserved)", reserved.Start, parse.RESERVED_SIZE, "-", "-"})
			t.AppendSeparator()
		}
		t.AppendRow(table.Row{f.Name, f.Offset, f.Width, f.Kind.String(), f.Value(s)})
	}
	t.Render()
}

// printSummary prints packet totals and, when a session was stored, its laps.
func printSummary(w io.Writer, p *pipeline) error {
	totals := p.stats.Totals()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Packets", "Bytes", "Decoded", "Malformed", "Dropped"})
	t.AppendRow(table.Row{
		monitor.FormatWithCommas(totals.Packets),
		monitor.FormatWithCommas(totals.Bytes),
		monitor.FormatWithCommas(totals.Decoded),
		monitor.FormatWithCommas(totals.Malformed),
		monitor.FormatWithCommas(totals.Dropped),
	})
	t.Render()

	if p.db == nil || p.session == nil {
		return nil
	}
	laps, err := p.db.LapSummaries(p.session.ID)
	if err != nil {
		return fmt.Errorf("lap summaries: %w", err)
	}
	if len(laps) == 0 {
		fmt.Fprintln(w, "No race-on samples recorded")
		return nil
	}

	lt := table.NewWriter()
	lt.SetOutputMirror(w)
	lt.SetStyle(table.StyleRounded)
	lt.AppendHeader(table.Row{"Lap", "Samples", "Lap time", "Top speed", "Avg speed", "Max RPM"})
	for _, lap := range laps {
		lt.AppendRow(table.Row{
			lap.LapNumber,
			lap.Samples,
			fmt.Sprintf("%.3fs", lap.LapTime),
			fmt.Sprintf("%.1f %s", units.ConvertSpeed(lap.TopSpeedMPS, p.units), units.Label(p.units)),
			fmt.Sprintf("%.1f %s", units.ConvertSpeed(lap.AvgSpeedMPS, p.units), units.Label(p.units)),
			fmt.Sprintf("%.0f", lap.MaxRPM),
		})
	}
	lt.Render()
	return nil
}
