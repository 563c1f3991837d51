package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type pingerStub struct {
	err error
}

func (p pingerStub) Ping(ctx context.Context) error {
	return p.err
}

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		store    Pinger
		path     string
		wantCode int
		wantBody string
	}{
		{name: "health", store: pingerStub{}, path: "/health", wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "health ignores store", store: pingerStub{err: errors.New("down")}, path: "/health", wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "ready", store: pingerStub{}, path: "/ready", wantCode: http.StatusOK, wantBody: "ready"},
		{name: "not ready", store: pingerStub{err: errors.New("dial tcp: connection refused")}, path: "/ready", wantCode: http.StatusServiceUnavailable, wantBody: "store unavailable"},
		{name: "metrics", store: pingerStub{}, path: "/metrics", wantCode: http.StatusOK, wantBody: "go_goroutines"},
		{name: "no customer routes", store: pingerStub{}, path: "/transactions", wantCode: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(tc.store, logger)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			if rec.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rec.Code)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("expected body to contain %q, got %q", tc.wantBody, rec.Body.String())
			}
		})
	}
}
