package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	applogger "PriceCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecoverLogsPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Recover(applogger.NewWriter(&buf, "info")))
	e.GET("/boom", func(c echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "kaboom") || !strings.Contains(buf.String(), "/boom") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestMetricsUseRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/items/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/api/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "no") })

	for _, path := range []string{"/api/items/1", "/api/items/2", "/api/fail"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/items/:id", http.MethodGet, "204")); got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/fail", http.MethodGet, "400")); got != 1 {
		t.Fatalf("expected error status to be recorded, got %v", got)
	}
}

func TestRequestLoggingReports5xx(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestLogging(applogger.NewWriter(&buf, "info"), 0))
	e.GET("/down", func(c echo.Context) error { return c.NoContent(http.StatusServiceUnavailable) })
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	if buf.Len() != 0 {
		t.Fatalf("2xx logged at info: %s", buf.String())
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/down", nil))
	if !strings.Contains(buf.String(), `"status":503`) {
		t.Fatalf("5xx not logged: %s", buf.String())
	}
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: []string{"https://app.example"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		MaxAge:       600,
	}))
	e.GET("/api/instruments", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	tests := []struct {
		name, method, origin string
		wantStatus           int
		wantAllow            string
	}{
		{"allowed origin", http.MethodGet, "https://app.example", http.StatusOK, "https://app.example"},
		{"other origin", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://app.example", http.StatusNoContent, "https://app.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/instruments", nil)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != tt.wantAllow {
				t.Fatalf("allow origin %q, want %q", got, tt.wantAllow)
			}
		})
	}
}
