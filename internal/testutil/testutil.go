// Package testutil holds helpers shared by the packages that mount tsweb
// debug routes.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// loopbackAddr is a remote address tsweb.AllowDebugAccess accepts.
const loopbackAddr = "127.0.0.1:12345"

// DebugRequest builds a request that appears to come from localhost, as the
// /debug/ routes require.
func DebugRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = loopbackAddr
	return req
}

// ServeDebug runs a localhost request through h and returns the recorder.
func ServeDebug(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, DebugRequest(method, target, body))
	return rec
}

// AssertStatusCode fails the test with the response body when the code is
// not want.
func AssertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d (body: %s)", rec.Code, want, rec.Body.String())
	}
}
