package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
)

func newAuditContext(method, path, route string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithUser(req.Context(), "doc-7", []string{auth.RoleDoctor}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(route)
	return c, rec
}

func TestAudit_RecordsPatientAccess(t *testing.T) {
	c, _ := newAuditContext(http.MethodPut, "/api/v1/patients/U100/complete", "/api/v1/patients/:uhiNo/complete")
	c.SetParamNames("uhiNo")
	c.SetParamValues("U100")
	c.Set("request_id", "req-123")

	var got []AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		got = append(got, e)
		return nil
	})

	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	if err := Audit(zerolog.Nop(), rec)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(got))
	}
	entry := got[0]
	if entry.UserID != "doc-7" {
		t.Errorf("expected user doc-7, got %s", entry.UserID)
	}
	if entry.UHINo != "U100" {
		t.Errorf("expected uhiNo U100, got %s", entry.UHINo)
	}
	if entry.Action != "update" {
		t.Errorf("expected action update, got %s", entry.Action)
	}
	if entry.Resource != "patients" {
		t.Errorf("expected resource patients, got %s", entry.Resource)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %s", entry.RequestID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", entry.StatusCode)
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	c, _ := newAuditContext(http.MethodGet, "/api/v1/patients/id/abc/parameters", "/api/v1/patients/id/:id/parameters")
	c.SetParamNames("id")
	c.SetParamValues("abc")

	var entry AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		entry = e
		return nil
	})
	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient abc not found")
	}
	_ = Audit(zerolog.Nop(), rec)(handler)(c)

	if entry.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", entry.StatusCode)
	}
	if entry.RecordID != "abc" || entry.Action != "read" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestAudit_SkipsPublicPaths(t *testing.T) {
	c, _ := newAuditContext(http.MethodGet, "/health", "/health")
	called := false
	rec := AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	})
	_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	if called {
		t.Error("expected /health not to be audited")
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newAuditContext(http.MethodGet, "/api/v1/patients", "/api/v1/patients")
	rec := AuditRecorderFunc(func(AuditEntry) error { return errors.New("disk full") })

	err := Audit(zerolog.New(&buf), rec)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	if err != nil {
		t.Fatalf("recorder failure must not fail the request: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestResourceOf(t *testing.T) {
	tests := map[string]string{
		"/api/v1/patients":           "patients",
		"/api/v1/patients/U1/intake": "patients",
		"/api/v1/reports/abc":        "reports",
		"/api/v1/":                   "unknown",
	}
	for path, want := range tests {
		if got := resourceOf(path); got != want {
			t.Errorf("resourceOf(%q) = %q, want %q", path, got, want)
		}
	}
}
