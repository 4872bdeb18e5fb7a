package api

import (
	"net/http"
	"strings"

	"github.com/shakedasido/AutoLink/internal/httputil"
	"github.com/shakedasido/AutoLink/internal/serialmux"
)

// SerialReloadRequest names the port to reopen. Omitted options take the
// board defaults.
type SerialReloadRequest struct {
	PortPath string                `json:"port_path"`
	Options  serialmux.PortOptions `json:"options"`
}

// SerialReloadResult is returned to API clients when a reload request is
// processed.
type SerialReloadResult struct {
	Changed bool                   `json:"changed"`
	Message string                 `json:"message"`
	Config  serialmux.PortSnapshot `json:"config"`
}

func (s *Server) showSerial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.serial == nil {
		httputil.ServiceUnavailable(w, "serial port not managed (dry run)")
		return
	}
	httputil.WriteJSONOK(w, s.serial.Snapshot())
}

// reloadSerial reopens the motor board port. The control loop keeps its
// subscription through the reload; commands issued while the port is
// closed fail and abort any running attempt.
func (s *Server) reloadSerial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.serial == nil {
		httputil.ServiceUnavailable(w, "serial port not managed (dry run)")
		return
	}

	req := SerialReloadRequest{PortPath: s.serial.Snapshot().PortPath}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	req.PortPath = strings.TrimSpace(req.PortPath)
	if req.PortPath == "" {
		httputil.BadRequest(w, "port_path is required")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	changed, err := s.serial.Reload(ctx, req.PortPath, req.Options)
	if err != nil {
		logf("serial reload failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	msg := "serial configuration already active"
	if changed {
		msg = "reopened " + req.PortPath
	}
	httputil.WriteJSONOK(w, SerialReloadResult{Changed: changed, Message: msg, Config: s.serial.Snapshot()})
}
