package testutil

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestDebugRequestIsLoopback(t *testing.T) {
	req := DebugRequest(http.MethodPost, "/debug/send", strings.NewReader("M 0 0 0 0 0 0 0"))
	if req.RemoteAddr != loopbackAddr {
		t.Fatalf("RemoteAddr = %q", req.RemoteAddr)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != "M 0 0 0 0 0 0 0" {
		t.Errorf("body = %q", body)
	}
}

func TestServeDebug(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, r.RemoteAddr)
	})
	rec := ServeDebug(h, http.MethodGet, "/debug/", nil)
	AssertStatusCode(t, rec, http.StatusAccepted)
	if rec.Body.String() != loopbackAddr {
		t.Errorf("body = %q", rec.Body.String())
	}
}
