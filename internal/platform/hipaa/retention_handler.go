package hipaa

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/voicedb/internal/platform/auth"
)

// RetentionHandler exposes the audit retention policies read-only.
type RetentionHandler struct {
	service *RetentionService
}

func NewRetentionHandler(service *RetentionService) *RetentionHandler {
	return &RetentionHandler{service: service}
}

// RegisterRetentionRoutes mounts the policy routes under /audit. Callers
// must be authenticated.
func RegisterRetentionRoutes(g *echo.Group, service *RetentionService) {
	h := NewRetentionHandler(service)

	audit := g.Group("/audit/retention-policies", auth.RequireCaller())
	audit.GET("", h.HandleListPolicies)
	audit.GET("/:level", h.HandleGetPolicy)
}

// HandleListPolicies handles GET /api/v1/audit/retention-policies.
func (h *RetentionHandler) HandleListPolicies(c echo.Context) error {
	policies := h.service.Policies()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"policies":              policies,
		"total":                 len(policies),
		"minimum_phi_retention": int(MinimumPHIRetention / day),
	})
}

// HandleGetPolicy handles GET /api/v1/audit/retention-policies/:level.
func (h *RetentionHandler) HandleGetPolicy(c echo.Context) error {
	level := AuditLevel(c.Param("level"))
	policy := h.service.GetPolicy(level)
	if policy == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no retention policy for audit level: " + string(level),
		})
	}
	return c.JSON(http.StatusOK, policy)
}
