package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"multiproxy/internal/config"
	"multiproxy/internal/route"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, &route.Table{}, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{Proxy: config.ProxyConfig{Address: "127.0.0.1:8080"}}
	table, err := route.NewTable(map[string]string{
		"/secure": "https://localhost:9443",
		"/api":    "http://localhost:9001",
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	h := NewHealthHandler(cfg, table, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status  string   `json:"status"`
		Version string   `json:"version"`
		Address string   `json:"address"`
		Routes  []string `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", body.Version, "1.2.3")
	}
	if body.Address != "127.0.0.1:8080" {
		t.Errorf("address = %q, want %q", body.Address, "127.0.0.1:8080")
	}
	if len(body.Routes) != 2 || body.Routes[0] != "/api" || body.Routes[1] != "/secure" {
		t.Errorf("routes = %v, want [/api /secure]", body.Routes)
	}
}
