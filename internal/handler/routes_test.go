package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"multiproxy/internal/client"
	"multiproxy/internal/config"
	"multiproxy/internal/metrics"
	"multiproxy/internal/route"
	"multiproxy/internal/service"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Proxy:    config.ProxyConfig{Address: "127.0.0.1:8080"},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	table, err := route.NewTable(map[string]string{"/api": upstream.URL})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	d := client.NewDispatcher(client.NewBackendClients(cfg), cfg, logger, m)
	svc := service.NewProxyService(table, d, logger)

	proxy := NewProxyHandler(svc, logger)
	health := NewHealthHandler(cfg, table, "test")

	e := echo.New()
	RegisterRoutes(e, proxy, health, m, cfg)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET /api", http.MethodGet, "/api", http.StatusOK},
		{"POST /api", http.MethodPost, "/api", http.StatusOK},
		{"DELETE /api", http.MethodDelete, "/api", http.StatusOK},
		{"GET /api/ is not /api", http.MethodGet, "/api/", http.StatusNotFound},
		{"GET /unknown", http.MethodGet, "/unknown", http.StatusNotFound},
		{"GET /", http.MethodGet, "/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), "multiproxy_upstream_responses_total") {
		t.Error("metrics endpoint does not expose upstream responses")
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := &config.Config{Upstream: config.UpstreamConfig{TimeoutSeconds: 10}}
	table, err := route.NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := client.NewDispatcher(client.NewBackendClients(cfg), cfg, logger, nil)
	svc := service.NewProxyService(table, d, logger)

	e := echo.New()
	RegisterRoutes(e, NewProxyHandler(svc, logger), NewHealthHandler(cfg, table, "test"), metrics.New(), cfg)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d when metrics are disabled", rec.Code, http.StatusNotFound)
	}
}
