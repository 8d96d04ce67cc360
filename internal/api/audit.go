package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/famledger/internal/auth"
	"github.com/alecgard/famledger/internal/ratelimit"
)

// auditLog emits a structured audit log entry for a successful mutation.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", ratelimit.ClientKey(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if s := auth.SessionFromContext(r.Context()); s != nil {
		attrs = append(attrs, "identity_id", s.IdentityID, "cluster_id", s.ClusterID, "role", s.Role)
	}

	attrs = append(attrs, detail...)
	slog.InfoContext(r.Context(), "audit", attrs...)
}
