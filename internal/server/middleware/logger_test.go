package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLoggerRecordsStatusAndIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// Downstream handler plays the auth middleware's part and fills in the
	// identity before writing its response.
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
			reqMeta.UserID = "u1"
		}
		w.WriteHeader(http.StatusTeapot)
	})
	h := Chain(inner, RequestMetadataMiddleware(), NewRequestLogger(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	out := buf.String()
	if !strings.Contains(out, "status=418") {
		t.Errorf("log line is missing the response status: %q", out)
	}
	if !strings.Contains(out, "userID=u1") {
		t.Errorf("log line is missing the authenticated identity: %q", out)
	}
}

func TestRequestLoggerDefaultsToOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h := Chain(inner, RequestMetadataMiddleware(), NewRequestLogger(logger))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("implicit 200 was not recorded: %q", buf.String())
	}
}
