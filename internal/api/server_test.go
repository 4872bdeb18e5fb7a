package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakedasido/AutoLink/internal/controller"
	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/docking"
	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/serialmux"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type fakeController struct {
	mu     sync.Mutex
	status controller.Status

	dockErr, stopErr, disconnectErr, driveErr error

	stopReasons []string
	driven      []driver.Command
}

func (f *fakeController) Status() controller.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Dock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dockErr != nil {
		return f.dockErr
	}
	f.status.Mode = controller.ModeDocking
	f.status.Phase = string(docking.PhaseApproach)
	return nil
}

func (f *fakeController) Stop(_ context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopReasons = append(f.stopReasons, reason)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.status.Mode = controller.ModeIdle
	return nil
}

func (f *fakeController) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.status.Mode = controller.ModeDisconnecting
	return nil
}

func (f *fakeController) Drive(_ context.Context, cmd driver.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.driveErr != nil {
		return f.driveErr
	}
	f.driven = append(f.driven, cmd)
	return nil
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ctl := &fakeController{status: controller.Status{Mode: controller.ModeIdle, Ready: true, Prompt: "ready to connect", Running: true}}
	mux := NewServer(ctl, nil, nil, nil).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st controller.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, controller.ModeIdle, st.Mode)
	assert.True(t, st.Ready)

	rec = do(t, mux, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestDock(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"not ready", controller.ErrNotReady, http.StatusConflict},
		{"busy", fmt.Errorf("%w: already docked", controller.ErrBusy), http.StatusConflict},
		{"loop down", controller.ErrNotRunning, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{dockErr: tt.err}
			mux := NewServer(ctl, nil, nil, nil).ServeMux()
			rec := do(t, mux, http.MethodPost, "/api/dock", "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, NewServer(&fakeController{}, nil, nil, nil).ServeMux(), http.MethodGet, "/api/dock", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStopPassesReason(t *testing.T) {
	ctl := &fakeController{status: controller.Status{Mode: controller.ModeDocking}}
	mux := NewServer(ctl, nil, nil, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/stop", `{"reason":"obstacle"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"obstacle", ""}, ctl.stopReasons)

	rec = do(t, mux, http.MethodPost, "/api/stop", `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisconnectAndDrive(t *testing.T) {
	ctl := &fakeController{disconnectErr: controller.ErrNotDocked, driveErr: controller.ErrNotDocked}
	mux := NewServer(ctl, nil, nil, nil).ServeMux()

	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/api/disconnect", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/api/drive", `{"left_duty":30}`).Code)

	ctl.disconnectErr, ctl.driveErr = nil, nil
	assert.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/api/disconnect", "").Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/api/drive", `{"left_duty":30,"right_duty":20,"right_reverse":true}`).Code)
	require.Len(t, ctl.driven, 1)
	assert.Equal(t, driver.Command{LeftDuty: 30, RightDuty: 20, RightReverse: true}, ctl.driven[0])

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/api/drive", `{"throttle":1}`).Code)
}

func TestSessions(t *testing.T) {
	d := setupTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, d.RecordSessionStart("s1", db.KindDock, base))
	require.NoError(t, d.RecordTransition("s1", db.TransitionRecord{From: "approach", To: "align", At: base.Add(time.Second), Reason: "range 44.0 below 45.0"}))
	require.NoError(t, d.RecordSessionEnd("s1", base.Add(2*time.Second), "aborted", "emergency stop", 20, ""))
	require.NoError(t, d.RecordSessionStart("s2", db.KindDock, base.Add(time.Minute)))

	mux := NewServer(&fakeController{}, d, nil, nil).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []db.SessionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)

	rec = do(t, mux, http.MethodGet, "/api/sessions?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/sessions?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/sessions?limit=x", "").Code)

	rec = do(t, mux, http.MethodGet, "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one db.SessionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "aborted", one.Status)
	require.Len(t, one.Transitions, 1)
	assert.Equal(t, "align", one.Transitions[0].To)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/sessions/nope", "").Code)
}

func TestSessionsWithoutJournal(t *testing.T) {
	mux := NewServer(&fakeController{}, nil, nil, nil).ServeMux()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, "/api/sessions", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, "/api/sessions/s1", "").Code)
}

func TestShowConfig(t *testing.T) {
	mux := NewServer(&fakeController{}, nil, nil, nil).ServeMux()
	rec := do(t, mux, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String(), "an empty config serialises without defaults")
}

func TestSerialReload(t *testing.T) {
	mux := NewServer(&fakeController{}, nil, nil, nil).ServeMux()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, "/api/serial", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodPost, "/api/serial/reload", "").Code)

	var opened []string
	mgr := serialmux.NewSerialPortManager(serialmux.NewDisabledSerialMux(),
		serialmux.PortSnapshot{PortPath: "/dev/ttyACM0", Options: serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}},
		func(path string, _ serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			opened = append(opened, path)
			return serialmux.NewDisabledSerialMux(), nil
		})
	defer mgr.Close()
	mux = NewServer(&fakeController{}, nil, mgr, nil).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/serial", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/dev/ttyACM0")

	// no body reopens the current path with default options, which match
	rec = do(t, mux, http.MethodPost, "/api/serial/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res SerialReloadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Changed)
	assert.Empty(t, opened)

	rec = do(t, mux, http.MethodPost, "/api/serial/reload", `{"port_path":"/dev/ttyUSB0","options":{"baud_rate":57600}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Changed)
	assert.Equal(t, "/dev/ttyUSB0", res.Config.PortPath)
	assert.Equal(t, 57600, res.Config.Options.BaudRate)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, opened)

	rec = do(t, mux, http.MethodPost, "/api/serial/reload", `{"port_path":"/dev/ttyUSB0","options":{"parity":"X"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/api/status?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}
