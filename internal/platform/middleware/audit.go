package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/auth"
)

// AuditEntry records who touched which module resource and how.
type AuditEntry struct {
	UserID     string
	Username   string
	UserRoles  []string
	Module     string
	Resource   string
	ResourceID string
	PatientID  string
	BranchID   int
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. The structured log line is always
// written whether or not a recorder is configured.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditPrefixes are the API roots whose requests are audited.
var auditPrefixes = []string{"/api/v1/", "/api/admissions/"}

// Audit logs every request under the module APIs after the handler ran.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method),
				PatientID:  extractPatientID(c),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.Username = auth.UsernameFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if bid, ok := c.Get("branch_id").(int); ok {
				entry.BranchID = bid
			}
			entry.Module, entry.Resource, entry.ResourceID = extractResource(path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("username", entry.Username).
				Strs("user_roles", entry.UserRoles).
				Str("module", entry.Module).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Int("branch_id", entry.BranchID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("resource_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func httpMethodToAction(method string) string {
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

// extractResource splits an API path into module, resource and id.
//
//   - /api/v1/bloodbank/units/42      -> bloodbank, units, 42
//   - /api/v1/ambulance/calls         -> ambulance, calls, ""
//   - /api/admissions/patients/7      -> admissions, patients, 7
//   - /api/v1/ws                      -> ws, "", ""
func extractResource(path string) (module, resource, id string) {
	var rest string
	switch {
	case strings.HasPrefix(path, "/api/admissions/"):
		module = "admissions"
		rest = strings.TrimPrefix(path, "/api/admissions/")
	case strings.HasPrefix(path, "/api/v1/"):
		rest = strings.TrimPrefix(path, "/api/v1/")
		parts := strings.SplitN(rest, "/", 2)
		module = parts[0]
		rest = ""
		if len(parts) == 2 {
			rest = parts[1]
		}
	default:
		return "unknown", "", ""
	}

	segs := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segs) > 0 {
		resource = segs[0]
	}
	if len(segs) > 1 {
		id = segs[1]
	}
	if module == "" {
		module = "unknown"
	}
	return module, resource, id
}

// extractPatientID looks for /patients/<id> in the path, then a patient_id
// or patient query parameter.
func extractPatientID(c echo.Context) string {
	segs := strings.Split(strings.Trim(c.Request().URL.Path, "/"), "/")
	for i := 0; i < len(segs)-1; i++ {
		if segs[i] == "patients" && segs[i+1] != "" {
			return segs[i+1]
		}
	}
	if p := c.QueryParam("patient_id"); p != "" {
		return p
	}
	return c.QueryParam("patient")
}
