package execution

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/platform/auth"
)

type Handler struct {
	svc *Service
	reg *schema.Registry
}

func NewHandler(svc *Service, reg *schema.Registry) *Handler {
	return &Handler{svc: svc, reg: reg}
}

// RegisterRoutes mounts the command API. The command route is open to
// anonymous callers on purpose: they are denied and audited by the pipeline.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/commands", h.ExecuteCommand)
	api.GET("/entities", h.ListEntities, auth.RequireCaller())
}

// CommandRequest is the body of POST /commands.
type CommandRequest struct {
	Transcript string `json:"transcript"`
}

func (h *Handler) ExecuteCommand(c echo.Context) error {
	var body CommandRequest
	if err := c.Bind(&body); err != nil {
		// An unreadable body is audited as an empty transcript.
		body.Transcript = ""
	}

	ctx := c.Request().Context()
	rid, _ := c.Get("request_id").(string)
	res := h.svc.Execute(ctx, Request{
		Transcript: body.Transcript,
		Caller: compliance.Caller{
			ID:               auth.UserIDFromContext(ctx),
			ElevatedApproval: auth.ElevatedFromContext(ctx),
		},
		RequestID: rid,
	})
	return c.JSON(StatusFor(res.Outcome), res)
}

// EntitySummary describes one registered entity.
type EntitySummary struct {
	Name               string   `json:"name"`
	Table              string   `json:"table"`
	IsPhiSensitive     bool     `json:"is_phi_sensitive"`
	AuditRetentionDays int      `json:"audit_retention_days"`
	SpokenForms        []string `json:"spoken_forms"`
	Columns            []string `json:"columns"`
}

// Summaries lists the registry in registration order.
func Summaries(reg *schema.Registry) []EntitySummary {
	entities := reg.AllEntities()
	out := make([]EntitySummary, 0, len(entities))
	for _, e := range entities {
		cols := make([]string, len(e.Columns))
		for i, col := range e.Columns {
			cols[i] = col.Name
		}
		out = append(out, EntitySummary{
			Name:               string(e.Name),
			Table:              e.Table,
			IsPhiSensitive:     e.IsPhiSensitive,
			AuditRetentionDays: int(e.DefaultAuditRetention.Hours() / 24),
			SpokenForms:        reg.Forms(e.Name),
			Columns:            cols,
		})
	}
	return out
}

func (h *Handler) ListEntities(c echo.Context) error {
	return c.JSON(http.StatusOK, Summaries(h.reg))
}
