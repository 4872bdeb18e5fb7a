package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["count"] != 42 {
		t.Errorf("count = %d, want 42", resp["count"])
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		want  int
	}{
		{"method not allowed", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodPost) }, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "missing") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, http.StatusConflict},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "down") }, http.StatusServiceUnavailable},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "oops") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodPost)
	if got := rec.Header().Values("Allow"); len(got) != 2 {
		t.Errorf("Allow = %v, want two methods", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Reason string `json:"reason"`
	}

	var b body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"operator"}`))
	if err := DecodeJSON(req, &b); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if b.Reason != "operator" {
		t.Errorf("reason = %q, want operator", b.Reason)
	}

	b = body{Reason: "kept"}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	if err := DecodeJSON(req, &b); err != nil {
		t.Fatalf("empty body: %v", err)
	}
	if b.Reason != "kept" {
		t.Errorf("empty body changed the value to %q", b.Reason)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"speed":3}`))
	if err := DecodeJSON(req, &b); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}
