package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveHealth(t *testing.T, ping func(context.Context) error, stats *PoolStats) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := healthHandler(ping, func() *PoolStats { return stats })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, body := serveHealth(t, func(context.Context) error { return nil }, &PoolStats{TotalConns: 2, MaxConns: 4, Healthy: true})
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("unexpected response %d %v", code, body)
	}
	pool, _ := body["pool"].(map[string]interface{})
	if pool["max_conns"] != float64(4) {
		t.Errorf("unexpected pool stats %v", pool)
	}
}

func TestHealthHandler_PingFailure(t *testing.T) {
	code, body := serveHealth(t, func(context.Context) error { return errors.New("connection refused") }, &PoolStats{TotalConns: 1, Healthy: true})
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("unexpected response %d %v", code, body)
	}
	if body["error"] != "connection refused" {
		t.Errorf("unexpected error %v", body["error"])
	}
	pool, _ := body["pool"].(map[string]interface{})
	if pool["healthy"] != false {
		t.Errorf("expected unhealthy pool, got %v", pool)
	}
}
