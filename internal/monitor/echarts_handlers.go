package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers the trace debug pages under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("trace", "Docking trace chart (?id=)", s.handleTraceChart)
	debug.HandleFunc("trace.png", "Docking trace PNG (?id=)", s.handleTracePNG)
	debug.HandleFunc("trace.json", "Docking trace samples and summary (?id=)", s.handleTraceJSON)
}

func (s *Store) lookupRequest(w http.ResponseWriter, r *http.Request) (*Trace, bool) {
	t, ok := s.Lookup(r.URL.Query().Get("id"))
	if !ok {
		http.Error(w, "no trace recorded", http.StatusNotFound)
		return nil, false
	}
	return t, true
}

// handleTraceChart renders the trace as two stacked line charts: pose
// (range and angle) and wheel duties (reverse is negative).
func (s *Store) handleTraceChart(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupRequest(w, r)
	if !ok {
		return
	}
	samples := t.Samples()
	sum := Summarize(samples)

	cycles := make([]string, 0, len(samples))
	rangeData := make([]opts.LineData, 0, len(samples))
	angleData := make([]opts.LineData, 0, len(samples))
	leftData := make([]opts.LineData, 0, len(samples))
	rightData := make([]opts.LineData, 0, len(samples))
	for _, smp := range samples {
		cycles = append(cycles, strconv.Itoa(smp.Cycle))
		// "-" leaves a gap in the line
		if rng, ok := displayRange(smp); ok {
			rangeData = append(rangeData, opts.LineData{Value: rng})
		} else {
			rangeData = append(rangeData, opts.LineData{Value: "-"})
		}
		if smp.Pose.Valid {
			angleData = append(angleData, opts.LineData{Value: smp.Pose.Angle})
		} else {
			angleData = append(angleData, opts.LineData{Value: "-"})
		}
		leftData = append(leftData, opts.LineData{Value: signedDuty(smp.Command.LeftDuty, smp.Command.LeftReverse)})
		rightData = append(rightData, opts.LineData{Value: signedDuty(smp.Command.RightDuty, smp.Command.RightReverse)})
	}

	pose := charts.NewLine()
	pose.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Docking trace", Theme: "dark", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s", t.Kind, t.ID),
			Subtitle: fmt.Sprintf("cycles=%d valid=%d duration=%.1fs min range=%.1f", sum.Cycles, sum.ValidCycles, sum.Duration, sum.MinRange),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "cycle"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	pose.SetXAxis(cycles).
		AddSeries("range", rangeData).
		AddSeries("angle", angleData)

	duty := charts.NewLine()
	duty.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Wheel duty"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: -100, Max: 100}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	duty.SetXAxis(cycles).
		AddSeries("left", leftData).
		AddSeries("right", rightData)

	page := components.NewPage()
	page.AddCharts(pose, duty)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Store) handleTracePNG(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupRequest(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WritePNG(t, &buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Store) handleTraceJSON(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupRequest(w, r)
	if !ok {
		return
	}
	samples := t.Samples()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ID      string   `json:"id"`
		Kind    string   `json:"kind"`
		Summary Summary  `json:"summary"`
		Dropped int      `json:"dropped"`
		Samples []Sample `json:"samples"`
	}{t.ID, t.Kind, Summarize(samples), t.Dropped(), samples})
}
