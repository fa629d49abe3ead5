package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := ParseLimit(tt.input); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(`{"rule_id":"AU-MOD25-0001"}`))
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := BodyLimit(1<<20, nil)(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil || len(b) == 0 {
			t.Fatalf("failed to read body: %v", err)
		}
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Fatalf("expected handler to run, err=%v", err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit(1024, nil)(func(c echo.Context) error {
		t.Error("handler should not be called when body exceeds limit")
		return nil
	})(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %v", err)
	}
}

func TestBodyLimit_RouteOverride(t *testing.T) {
	e := echo.New()
	overrides := map[string]int64{"POST /api/v1/rules/import": 10 << 20}
	mw := BodyLimit(1024, overrides)
	body := bytes.Repeat([]byte("x"), 2048)

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/rules/import", bytes.NewReader(body)), httptest.NewRecorder())
	if err := mw(func(echo.Context) error { return nil })(c); err != nil {
		t.Errorf("import should use the larger limit: %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewReader(body)), httptest.NewRecorder())
	if err := mw(func(echo.Context) error { return nil })(c); err == nil {
		t.Error("other routes keep the default limit")
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil), httptest.NewRecorder())

	called := false
	BodyLimit(1, nil)(func(echo.Context) error { called = true; return nil })(c)
	if !called {
		t.Error("expected handler to be called for GET with no body")
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/import", bytes.NewReader(bytes.Repeat([]byte("a"), 1024)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit(512, nil)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 while reading, got %v", err)
	}
}
