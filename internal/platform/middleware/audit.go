package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/auth"
)

// AuditEntry records who searched for what, or who took part in a token
// flow. Codes, tokens and assertions are never recorded.
type AuditEntry struct {
	Subject           string
	ResourceType      string
	PatientIdentifier string
	Action            string // search, token, assertion
	ClientID          string
	IPAddress         string
	UserAgent         string
	Path              string
	Method            string
	Timestamp         time.Time
	RequestID         string
	StatusCode        int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request under /fhir/ and every call to the token and
// assertion endpoints, after the handler ran.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			action := auditAction(path)
			if action == "" {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				Action:     action,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Subject:    auth.SubjectFromContext(req.Context()),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if action == "search" {
				entry.ResourceType = extractResourceType(path)
				entry.PatientIdentifier = extractPatientIdentifier(c)
			} else {
				entry.ClientID = c.FormValue("client_id")
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.StatusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("subject", entry.Subject).
				Str("client_id", entry.ClientID).
				Str("resource_type", entry.ResourceType).
				Str("patient_identifier", entry.PatientIdentifier).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

// auditAction classifies path, returning "" for paths that are not audited.
func auditAction(path string) string {
	switch {
	case strings.HasPrefix(path, "/fhir/"):
		return "search"
	case path == "/token":
		return "token"
	case path == "/assertion":
		return "assertion"
	default:
		return ""
	}
}

// extractResourceType parses the FHIR resource type from a URL path, e.g.
// /fhir/DocumentManifest/_search -> DocumentManifest.
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/fhir/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPatientIdentifier returns the patient the search is scoped to, from
// patient.identifier or a patient reference parameter.
func extractPatientIdentifier(c echo.Context) string {
	if v := c.QueryParam("patient.identifier"); v != "" {
		return v
	}
	return c.QueryParam("patient")
}
