package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/magmon/internal/acquire"
	"github.com/banshee-data/magmon/internal/httputil"
	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/spectrum"
)

// Controller is the part of an acquisition session the monitor drives.
type Controller interface {
	ID() string
	Stats() acquire.Stats
	Stop() error
	Analyze() (spectrum.Result, error)
}

type Server struct {
	ctl       Controller
	live      *Live
	onAnalyze func(spectrum.Result) error

	mu   sync.Mutex
	spec *spectrum.Result
}

type Option func(*Server)

// WithAnalyzeHook runs f after every successful analysis, for example to
// archive the spectrum. A hook error is logged and reported to the client.
func WithAnalyzeHook(f func(spectrum.Result) error) Option {
	return func(s *Server) { s.onAnalyze = f }
}

func NewServer(ctl Controller, live *Live, opts ...Option) *Server {
	s := &Server{ctl: ctl, live: live}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/batch", s.handleBatch)
	mux.HandleFunc("/api/window", s.handleWindow)
	mux.HandleFunc("/api/spectrum", s.handleSpectrum)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/charts/live", s.handleLiveChart)
	mux.HandleFunc("/charts/spectrum", s.handleSpectrumChart)
	mux.HandleFunc("/charts/spectrum.png", s.handleSpectrumPNG)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Spectrum returns the last computed spectrum, if any.
func (s *Server) Spectrum() (spectrum.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spec == nil {
		return spectrum.Result{}, false
	}
	return *s.spec, true
}

// Analyze computes the spectrum of the stopped session, remembers it and
// runs the analyze hook.
func (s *Server) Analyze() (spectrum.Result, error) {
	res, err := s.ctl.Analyze()
	if err != nil {
		return spectrum.Result{}, err
	}
	s.mu.Lock()
	s.spec = &res
	s.mu.Unlock()

	if s.onAnalyze != nil {
		if err := s.onAnalyze(res); err != nil {
			monitoring.Logf("[monitor] analyze hook failed: %v", err)
			return res, err
		}
	}
	s.live.Publish(Message{Type: "spectrum", Data: spectrumSummary(res)})
	return res, nil
}

// Pump forwards session events to the event stream until events is closed
// or ctx is done.
func (s *Server) Pump(ctx context.Context, events <-chan acquire.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if m, ok := eventMessage(ev); ok {
				s.live.Publish(m)
			}
		}
	}
}

func eventMessage(ev acquire.Event) (Message, bool) {
	switch ev.Kind {
	case acquire.EventSample:
		return Message{Type: "sample", Data: map[string]any{"index": ev.Index, "sample": ev.Sample}}, true
	case acquire.EventConnection:
		return Message{Type: "connection", Data: map[string]any{"connected": ev.Connected}}, true
	case acquire.EventState:
		return Message{Type: "state", Data: map[string]any{"state": ev.State}}, true
	case acquire.EventFault:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return Message{Type: "fault", Data: map[string]any{"error": msg}}, true
	}
	// Batches reach the stream through Live.OnBatch.
	return Message{}, false
}

type spectrumResponse struct {
	spectrum.Result
	Peak *spectrum.Point `json:"peak,omitempty"`
}

func spectrumSummary(res spectrum.Result) spectrumResponse {
	out := spectrumResponse{Result: res}
	if p, ok := res.Peak(); ok {
		out.Peak = &p
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Stats())
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.live.Latest())
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	first, mags := s.live.Window()
	httputil.WriteJSONOK(w, map[string]any{
		"first":       first,
		"sample_rate": s.live.SampleRate(),
		"magnitudes":  mags,
	})
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res, ok := s.Spectrum()
	if !ok {
		httputil.NotFound(w, "no spectrum yet; stop the session and analyze first")
		return
	}
	httputil.WriteJSONOK(w, spectrumSummary(res))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctl.Stop(); err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Stats())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	res, err := s.Analyze()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, spectrumSummary(res))
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, acquire.ErrState) || errors.Is(err, acquire.ErrNotStopped) {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

// handleEvents streams Live messages as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.live.Subscribe()
	defer s.live.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case m, ok := <-c:
			if !ok {
				return
			}
			data, err := json.Marshal(m.Data)
			if err != nil {
				monitoring.Logf("[monitor] failed to encode %s event: %v", m.Type, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// AttachAdminRoutes adds the receiver indicators to the /debug/ page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Session", s.ctl.ID())
	debug.KVFunc("State", func() any { return s.ctl.Stats().State.String() })
	debug.KVFunc("Transmitter connected", func() any { return s.ctl.Stats().Connected })
	debug.KVFunc("Samples received", func() any { return s.ctl.Stats().Received })
	debug.KVFunc("Samples visualized", func() any { return s.ctl.Stats().Visualized })
	debug.KVFunc("Queued", func() any { return s.ctl.Stats().Queued })
	debug.KVFunc("|B| min/max", func() any {
		st := s.ctl.Stats()
		return fmt.Sprintf("%.3f / %.3f", st.Min, st.Max)
	})
	debug.URL("/charts/live", "Live magnitude strip chart")
	debug.URL("/charts/spectrum", "Spectrum (add ?scale=log)")
}
