// Package api serves the host control surface: stream status, filter
// configuration, sender allow-lists, recording control, metrics and the
// gRPC health service.
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/filter"
	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/db"
	"github.com/banshee-data/csistudio/internal/display"
	"github.com/banshee-data/csistudio/internal/export"
	"github.com/banshee-data/csistudio/internal/httputil"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Config wires a Server. Orchestrator is required; the rest are optional
// and their routes report 404 or are left out when nil.
type Config struct {
	Orchestrator *stream.Orchestrator
	MACs         *stream.MACList
	Recordings   *Recordings
	Exporter     *export.Exporter
	Display      *display.Hub
	DB           *db.DB
	Metrics      *monitoring.Metrics
	Settings     *config.Config
}

// Server handles the control API.
type Server struct {
	cfg Config

	mu      sync.Mutex
	recName string
}

// NewServer returns a Server for cfg.
func NewServer(cfg Config) *Server {
	if cfg.Orchestrator == nil {
		panic("api: orchestrator is required")
	}
	return &Server{cfg: cfg}
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

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with the API, display, metrics and debug routes.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/senders", s.listSenders)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/filters", s.listFilters)
	mux.HandleFunc("POST /api/filters/{file}", s.updateFilter)
	mux.HandleFunc("POST /api/filters/{file}/reset", s.resetFilter)
	mux.HandleFunc("/api/macs", s.handleMACs)
	mux.HandleFunc("POST /api/recording/start", s.startRecording)
	mux.HandleFunc("POST /api/recording/stop", s.stopRecording)

	if s.cfg.Display != nil {
		s.cfg.Display.AttachRoutes(mux, "/display/")
	}
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.HandleFunc("pipeline", "Filter pipeline (JSON)", s.listFilters)
	debug.HandleFunc("stream", "Stream status (JSON)", s.showStatus)
	if s.cfg.DB != nil {
		if err := s.cfg.DB.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	stream.Status
	Version       string       `json:"version"`
	RecordingName string       `json:"recording_name,omitempty"`
	Export        *ExportStats `json:"export,omitempty"`
}

// ExportStats reports the live-export queue counters.
type ExportStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  s.cfg.Orchestrator.Status(),
		Version: version.Version,
	}
	s.mu.Lock()
	if resp.Recording {
		resp.RecordingName = s.recName
	}
	s.mu.Unlock()
	if s.cfg.Exporter != nil {
		sent, failed, dropped := s.cfg.Exporter.Stats()
		resp.Export = &ExportStats{Sent: sent, Failed: failed, Dropped: dropped}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listSenders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.Orchestrator.Senders())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Settings == nil {
		httputil.WriteJSONOK(w, &config.Config{})
		return
	}
	httputil.WriteJSONOK(w, s.cfg.Settings)
}

func (s *Server) listFilters(w http.ResponseWriter, r *http.Request) {
	var infos []FilterInfo
	_ = s.cfg.Orchestrator.WithPipeline(func(p *filter.Pipeline) error {
		infos = DescribeFilters(p)
		return nil
	})
	httputil.WriteJSONOK(w, infos)
}

var errNoFilter = errors.New("no such filter")

func (s *Server) updateFilter(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("file")
	var u FilterUpdate
	if err := httputil.ReadJSON(r, &u); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var info FilterInfo
	err := s.cfg.Orchestrator.WithPipeline(func(p *filter.Pipeline) error {
		h, ok := FindFilter(p, key)
		if !ok {
			return errNoFilter
		}
		if err := ApplyUpdate(p, h, u); err != nil {
			return err
		}
		info = describe(h)
		return nil
	})
	switch {
	case errors.Is(err, errNoFilter):
		httputil.NotFound(w, fmt.Sprintf("no filter %q", key))
	case err != nil:
		httputil.BadRequest(w, err.Error())
	default:
		monitoring.Logf("Filter %s updated: active=%v priority=%d", key, info.Active, info.Priority)
		httputil.WriteJSONOK(w, info)
	}
}

func (s *Server) resetFilter(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("file")
	err := s.cfg.Orchestrator.WithPipeline(func(p *filter.Pipeline) error {
		h, ok := FindFilter(p, key)
		if !ok {
			return errNoFilter
		}
		h.Reset()
		return nil
	})
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no filter %q", key))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "reset", "file": key})
}

// MACsResponse is the body of GET /api/macs.
type MACsResponse struct {
	Known     []string `json:"known"`
	AllowList []string `json:"allow_list"`
}

// MACsRequest is the body of PUT /api/macs.
type MACsRequest struct {
	AllowList []string `json:"allow_list"`
}

func (s *Server) handleMACs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp := MACsResponse{Known: []string{}, AllowList: []string{}}
		for _, snd := range s.cfg.Orchestrator.Senders() {
			resp.Known = append(resp.Known, snd.MAC)
		}
		if s.cfg.MACs != nil {
			resp.AllowList = s.cfg.MACs.Entries()
		}
		httputil.WriteJSONOK(w, resp)
	case http.MethodPut:
		if s.cfg.MACs == nil {
			httputil.NotFound(w, "no allow-list configured")
			return
		}
		var req MACsRequest
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if invalid := s.cfg.MACs.Set(req.AllowList); len(invalid) > 0 {
			monitoring.Logf("Ignoring invalid allow-list entries: %v", invalid)
		}
		httputil.WriteJSONOK(w, MACsResponse{AllowList: s.cfg.MACs.Entries()})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Recordings == nil {
		httputil.NotFound(w, "recording is not configured")
		return
	}
	var req RecordingRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name, err := s.StartRecording(req)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "recording", "name": name})
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	name, err := s.StopRecording()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped", "name": name})
}

// StartRecording opens a sink through Recordings and attaches it,
// replacing any active recording.
func (s *Server) StartRecording(req RecordingRequest) (string, error) {
	sink, name, err := s.cfg.Recordings.Open(req)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cfg.Orchestrator.StartRecording(sink); err != nil {
		sink.Close()
		return "", err
	}
	s.recName = name
	return name, nil
}

// StopRecording detaches and closes the active recording. It returns the
// name of the recording that was stopped, if any.
func (s *Server) StopRecording() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.recName
	s.recName = ""
	return name, s.cfg.Orchestrator.StopRecording()
}
