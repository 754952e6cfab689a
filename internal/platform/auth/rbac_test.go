package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMatchScope(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"terminology.read", "terminology.read", true},
		{"terminology.publish", "terminology.read", false},
		{"*.*", "terminology.read", true},
		{"terminology.*", "terminology.read", true},
		{"*.read", "terminology.read", true},
		{"*.read", "terminology.publish", false},
		{"", "terminology.read", false},
		{"terminology.read", "", false},
		{"invalid", "terminology.read", false},
	}

	for _, tt := range tests {
		if got := matchScope(tt.granted, tt.required); got != tt.want {
			t.Errorf("matchScope(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func contextWith(key contextKey, values []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), key, values))
	return e.NewContext(req, httptest.NewRecorder())
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequireScope(t *testing.T) {
	if err := RequireScope("terminology", "read")(okHandler)(contextWith(UserScopesKey, []string{"terminology.read"})); err != nil {
		t.Errorf("expected scope to pass, got %v", err)
	}
	err := RequireScope("terminology", "read")(okHandler)(contextWith(UserScopesKey, nil))
	expectStatus(t, err, http.StatusForbidden)
}
