package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestAudit_RecordsAPIAccess(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	var got AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	})

	handler := func(c echo.Context) error { return c.String(http.StatusCreated, "ok") }
	if err := Audit(zerolog.Nop(), recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Resource != "cases" {
		t.Errorf("expected resource cases, got %q", got.Resource)
	}
	if got.Action != "create" {
		t.Errorf("expected action create, got %q", got.Action)
	}
	if got.RequestID != "rid-1" {
		t.Errorf("expected request id rid-1, got %q", got.RequestID)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		called = true
		return nil
	})

	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	if err := Audit(zerolog.Nop(), recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected health endpoint to be excluded from audit")
	}
}

func TestAuditResource(t *testing.T) {
	cases := map[string]string{
		"/api/v1/cases/123":     "cases",
		"/api/v1/personnel":     "personnel",
		"/api/v1/transfers/abc": "transfers",
	}
	for path, want := range cases {
		if got := auditResource(path); got != want {
			t.Errorf("auditResource(%q) = %q, want %q", path, got, want)
		}
	}
}
