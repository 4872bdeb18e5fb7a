// Package api serves the operator HTTP API: docking status, begin docking,
// emergency stop, disconnect, manual driving while docked, the session
// journal, and the serial port reload.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shakedasido/AutoLink/internal/config"
	"github.com/shakedasido/AutoLink/internal/controller"
	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/httputil"
	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/serialmux"
)

var logf = monitoring.Tagged("api")

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultRequestTimeout bounds how long a handler waits for the control loop
// to pick up a request. Requests are served between frames, so this must
// exceed the frame timeout.
const DefaultRequestTimeout = 5 * time.Second

const defaultSessionLimit = 20

// Controller is the control loop as the API sees it.
type Controller interface {
	Status() controller.Status
	Dock(ctx context.Context) error
	Stop(ctx context.Context, reason string) error
	Disconnect(ctx context.Context) error
	Drive(ctx context.Context, cmd driver.Command) error
}

// Journal is the read side of the session journal.
type Journal interface {
	RecentSessions(limit int) ([]db.SessionRecord, error)
	Session(id string) (db.SessionRecord, error)
}

// SerialReloader reopens the motor board port. *serialmux.SerialPortManager
// implements it.
type SerialReloader interface {
	Snapshot() serialmux.PortSnapshot
	Reload(ctx context.Context, path string, opts serialmux.PortOptions) (bool, error)
}

type Server struct {
	ctl     Controller
	journal Journal
	serial  SerialReloader
	cfg     *config.DockingConfig

	RequestTimeout time.Duration
}

// NewServer builds the API. journal and serial may be nil, in which case
// their routes answer 503.
func NewServer(ctl Controller, journal Journal, serial SerialReloader, cfg *config.DockingConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyDockingConfig()
	}
	return &Server{
		ctl:            ctl,
		journal:        journal,
		serial:         serial,
		cfg:            cfg,
		RequestTimeout: DefaultRequestTimeout,
	}
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
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/dock", s.beginDocking)
	mux.HandleFunc("/api/stop", s.emergencyStop)
	mux.HandleFunc("/api/disconnect", s.beginDisconnect)
	mux.HandleFunc("/api/drive", s.drive)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/", s.showSession)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/serial", s.showSerial)
	mux.HandleFunc("/api/serial/reload", s.reloadSerial)
	return mux
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

// writeControllerError maps control loop errors onto status codes.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrNotReady),
		errors.Is(err, controller.ErrBusy),
		errors.Is(err, controller.ErrNotDocked):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, controller.ErrNotRunning):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, "control loop did not respond")
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) beginDocking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.ctl.Dock(ctx); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.ctl.Status())
}

type stopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req stopRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.ctl.Stop(ctx, req.Reason); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) beginDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.ctl.Disconnect(ctx); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.ctl.Status())
}

func (s *Server) drive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var cmd driver.Command
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.ctl.Drive(ctx, cmd); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal disabled")
		return
	}

	limit := defaultSessionLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.journal.RecentSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to read journal: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.SessionRecord{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal disabled")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if id == "" {
		s.listSessions(w, r)
		return
	}
	rec, err := s.journal.Session(id)
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to read journal: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}
