package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry records who touched which tenant's records.
type AuditEntry struct {
	PrincipalID string
	TenantID    string
	TenantKind  string
	Resource    string
	RecordID    string
	Action      string // read, create, update, delete
	Method      string
	Path        string
	IPAddress   string
	UserAgent   string
	RequestID   string
	StatusCode  int
	Timestamp   time.Time
}

// AuditRecorder persists audit entries in addition to the log line.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits a tenant_audit line for every /api/v1 request after the handler
// has run, so denied requests are audited with their status too.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			resource, recordID := resourceOf(path)
			entry := AuditEntry{
				PrincipalID: stringValue(c, "principal_id"),
				TenantID:    stringValue(c, "tenant_id"),
				TenantKind:  stringValue(c, "tenant_kind"),
				Resource:    resource,
				RecordID:    recordID,
				Action:      actionOf(req.Method),
				Method:      req.Method,
				Path:        path,
				IPAddress:   c.RealIP(),
				UserAgent:   req.UserAgent(),
				RequestID:   stringValue(c, "request_id"),
				StatusCode:  status,
				Timestamp:   time.Now().UTC(),
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if status == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "tenant_audit").
				Str("request_id", entry.RequestID).
				Str("principal_id", entry.PrincipalID).
				Str("tenant_id", entry.TenantID).
				Str("tenant_kind", entry.TenantKind).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("tenant_access")

			return err
		}
	}
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf splits /api/v1/<resource>[/<...>/<uuid>] into the resource name
// and the last uuid segment, if any.
//
//	/api/v1/patients                 -> patients, ""
//	/api/v1/patients/<id>/vitals     -> patients, <id>
//	/api/v1/hospitals/evacuations/<id> -> hospitals, <id>
func resourceOf(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource := segments[0]
	if resource == "" {
		resource = "unknown"
	}
	var id string
	for _, s := range segments[1:] {
		if _, err := uuid.Parse(s); err == nil {
			id = s
		}
	}
	return resource, id
}
