package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestAudit_Search(t *testing.T) {
	rec := &mockRecorder{}
	req := httptest.NewRequest(http.MethodGet,
		"/fhir/DocumentManifest?patient.identifier=urn:oid:1.2.3%7C42&status=current", nil)
	req = req.WithContext(auth.WithSubject(req.Context(), "user-123"))
	c, _ := newTestContext(req)
	c.Set("request_id", "req-1")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	e := rec.last()
	if e.Action != "search" || e.ResourceType != "DocumentManifest" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.PatientIdentifier != "urn:oid:1.2.3|42" {
		t.Errorf("PatientIdentifier = %q", e.PatientIdentifier)
	}
	if e.Subject != "user-123" || e.RequestID != "req-1" || e.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAudit_TokenRecordsClientOnly(t *testing.T) {
	rec := &mockRecorder{}
	form := url.Values{"grant_type": {"authorization_code"}, "code": {"secret-code"}, "client_id": {"app-1"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c, _ := newTestContext(req)

	Audit(zerolog.Nop(), rec)(okHandler)(c)

	e := rec.last()
	if e.Action != "token" || e.ClientID != "app-1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, p := range []string{"/health", "/metrics", "/"} {
		c, _ := newTestContext(httptest.NewRequest(http.MethodGet, p, nil))
		Audit(zerolog.Nop(), rec)(okHandler)(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_RecorderError_DoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/fhir/DocumentManifest", nil))

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestAudit_NoRecorder_LogOnly(t *testing.T) {
	c, _ := newTestContext(httptest.NewRequest(http.MethodGet, "/fhir/DocumentManifest", nil))
	if err := Audit(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditAction(t *testing.T) {
	tests := map[string]string{
		"/fhir/DocumentManifest":         "search",
		"/fhir/DocumentManifest/_search": "search",
		"/token":                         "token",
		"/assertion":                     "assertion",
		"/health":                        "",
		"/fhir":                          "",
	}
	for path, want := range tests {
		if got := auditAction(path); got != want {
			t.Errorf("auditAction(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractResourceType(t *testing.T) {
	if got := extractResourceType("/fhir/DocumentManifest/_search"); got != "DocumentManifest" {
		t.Errorf("got %q", got)
	}
	if got := extractResourceType("/fhir/"); got != "unknown" {
		t.Errorf("got %q", got)
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	f.RecordAccess(AuditEntry{Action: "token"})
	if got.Action != "token" {
		t.Errorf("Action = %q", got.Action)
	}
}
