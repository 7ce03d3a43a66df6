package monitor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/magmon/internal/httputil"
	"github.com/banshee-data/magmon/internal/spectrum"
)

// handleLiveChart renders the strip chart of |B| over the kept window.
func (s *Server) handleLiveChart(w http.ResponseWriter, r *http.Request) {
	first, mags := s.live.Window()
	fs := s.live.SampleRate()

	xs := make([]string, len(mags))
	data := make([]opts.LineData, len(mags))
	for i, m := range mags {
		xs[i] = strconv.FormatFloat(float64(first+i)/fs, 'f', 2, 64)
		data[i] = opts.LineData{Value: m}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Magnetic field", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "|B| live", Subtitle: fmt.Sprintf("session=%s samples=%d window=%d", s.ctl.ID(), s.live.Total(), s.live.Capacity())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|B|", Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries("|B|", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	s.renderChart(w, line)
}

// handleSpectrumChart renders the last spectrum; ?scale=log switches the
// magnitude axis.
func (s *Server) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	scale, err := spectrum.ParseScale(r.URL.Query().Get("scale"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, ok := s.Spectrum()
	if !ok {
		httputil.NotFound(w, "no spectrum yet; stop the session and analyze first")
		return
	}

	xs := make([]string, 0, len(res.Points))
	data := make([]opts.LineData, 0, len(res.Points))
	for _, pt := range res.Points {
		if scale == spectrum.Log && pt.Magnitude <= 0 {
			continue
		}
		xs = append(xs, strconv.FormatFloat(pt.Frequency, 'f', 3, 64))
		data = append(data, opts.LineData{Value: pt.Magnitude})
	}

	yAxis := opts.YAxis{Name: "Magnitude", Type: "value"}
	if scale == spectrum.Log {
		yAxis.Type = "log"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spectrum", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Magnetic field spectrum", Subtitle: fmt.Sprintf("%d samples, %.4g Hz/bin, %s scale", res.Count, res.Resolution, scale)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hz"}),
		charts.WithYAxisOpts(yAxis),
	)
	line.SetXAxis(xs).AddSeries("spectrum", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	s.renderChart(w, line)
}

type renderer interface {
	Render(w io.Writer) error
}

func (s *Server) renderChart(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSpectrumPNG renders the last spectrum with gonum/plot.
func (s *Server) handleSpectrumPNG(w http.ResponseWriter, r *http.Request) {
	scale, err := spectrum.ParseScale(r.URL.Query().Get("scale"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, ok := s.Spectrum()
	if !ok {
		httputil.NotFound(w, "no spectrum yet; stop the session and analyze first")
		return
	}
	var buf bytes.Buffer
	if err := spectrum.WritePNG(&buf, res, scale); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
