package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/api/middleware"
	"github.com/MacJediWizard/bpcmon/internal/commands"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/MacJediWizard/bpcmon/internal/models"
	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AgentCommandsHandler lets operators queue commands for site agents.
type AgentCommandsHandler struct {
	sites   SiteGetter
	mailbox commands.Mailbox
	events  EventPublisher
	metrics *metrics.PrometheusMetrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewAgentCommandsHandler creates a new AgentCommandsHandler.
func NewAgentCommandsHandler(sites SiteGetter, mailbox commands.Mailbox, events EventPublisher, m *metrics.PrometheusMetrics, logger zerolog.Logger) *AgentCommandsHandler {
	return &AgentCommandsHandler{
		sites:   sites,
		mailbox: mailbox,
		events:  events,
		metrics: m,
		now:     time.Now,
		logger:  logger.With().Str("component", "agent_commands_handler").Logger(),
	}
}

// RegisterRoutes registers command dispatch routes. The group must require an
// admin operator.
func (h *AgentCommandsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/command/bulk/refresh", h.BulkRefresh)
	r.POST("/command/:siteId", h.Dispatch)
	r.GET("/command/:siteId", h.Pending)
}

// DispatchResponse is returned after a command has been queued.
type DispatchResponse struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message"`
	SiteID    int64                 `json:"site_id"`
	Command   pkgmodels.CommandKind `json:"command"`
	Timestamp string                `json:"timestamp"`
}

// BulkRefreshRequest is the body of a bulk refresh.
type BulkRefreshRequest struct {
	SiteIDs []int64 `json:"site_ids" binding:"required,min=1"`
}

// BulkRefreshResponse lists the sites a refresh was queued for.
type BulkRefreshResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	SiteIDs []int64 `json:"site_ids"`
}

// Dispatch queues a command for a site's agent, replacing any command the
// agent has not yet polled. The whole request body becomes the payload.
// POST /api/agent/command/:siteId
func (h *AgentCommandsHandler) Dispatch(c *gin.Context) {
	siteID, ok := parseSiteID(c)
	if !ok {
		return
	}

	var body map[string]any
	if !bindJSON(c, &body) {
		return
	}
	name, _ := body["command"].(string)
	kind := pkgmodels.CommandKind(name)
	if !kind.IsValid() {
		msg := "The selected command is invalid."
		if name == "" {
			msg = "The command field is required."
		}
		c.JSON(http.StatusUnprocessableEntity, pkgmodels.APIError{
			Error:    invalidDataError,
			Messages: map[string]string{"command": msg},
		})
		return
	}

	site, ok := h.loadAgentSite(c, siteID)
	if !ok {
		return
	}

	cmd := models.PendingCommand{Kind: kind, Payload: body, IssuedAt: h.now().UTC()}
	if err := h.enqueue(c, site, cmd); err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Str("command", name).Msg("failed to queue command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue command"})
		return
	}

	c.JSON(http.StatusOK, DispatchResponse{
		Success:   true,
		Message:   fmt.Sprintf("%s command sent to agent", kind),
		SiteID:    site.ID,
		Command:   kind,
		Timestamp: cmd.IssuedAt.Format(time.RFC3339),
	})
}

// BulkRefresh queues a refresh for every listed site that has an agent.
// Unknown sites and sites without an agent token are skipped.
// POST /api/agent/command/bulk/refresh
func (h *AgentCommandsHandler) BulkRefresh(c *gin.Context) {
	var req BulkRefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	sent := make([]int64, 0, len(req.SiteIDs))
	for _, id := range req.SiteIDs {
		site, err := h.sites.GetSiteByID(ctx, id)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				h.logger.Error().Err(err).Int64("site_id", id).Msg("failed to load site for bulk refresh")
			}
			continue
		}
		if !site.HasAgentToken() {
			continue
		}

		cmd := models.NewPendingCommand(pkgmodels.CommandRefresh, nil)
		if err := h.enqueue(c, site, cmd); err != nil {
			h.logger.Error().Err(err).Int64("site_id", id).Msg("failed to queue refresh")
			continue
		}
		sent = append(sent, site.ID)
	}

	c.JSON(http.StatusOK, BulkRefreshResponse{
		Success: true,
		Message: fmt.Sprintf("Refresh commands sent to %d agents", len(sent)),
		SiteIDs: sent,
	})
}

// Pending returns the command waiting for a site's agent, if any.
// GET /api/agent/command/:siteId
func (h *AgentCommandsHandler) Pending(c *gin.Context) {
	siteID, ok := parseSiteID(c)
	if !ok {
		return
	}
	site, ok := h.loadSite(c, siteID)
	if !ok {
		return
	}

	cmd, err := h.mailbox.Peek(c.Request.Context(), site.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to peek command mailbox")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read pending command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"site_id": site.ID, "pending": cmd})
}

func (h *AgentCommandsHandler) enqueue(c *gin.Context, site *models.Site, cmd models.PendingCommand) error {
	ctx := c.Request.Context()
	if err := h.mailbox.Enqueue(ctx, site.ID, cmd); err != nil {
		return err
	}
	h.metrics.RecordCommand(string(cmd.Kind), "dispatched")

	log := h.logger.Info().Int64("site_id", site.ID).Str("site", site.Name).Str("command", string(cmd.Kind))
	if op := middleware.GetOperator(c); op != nil {
		log = log.Str("operator", op.Username)
	}
	log.Msg("command queued for agent")

	h.events.Publish(ctx, models.NewAgentCommand(site.ID, cmd))
	return nil
}

// loadAgentSite loads a site that has an agent configured, writing 404 or 400 otherwise.
func (h *AgentCommandsHandler) loadAgentSite(c *gin.Context, siteID int64) (*models.Site, bool) {
	site, ok := h.loadSite(c, siteID)
	if !ok {
		return nil, false
	}
	if !site.HasAgentToken() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Site does not have an agent configured"})
		return nil, false
	}
	return site, true
}

func (h *AgentCommandsHandler) loadSite(c *gin.Context, siteID int64) (*models.Site, bool) {
	return loadSite(c, h.sites, siteID, h.logger)
}

// loadSite fetches a site for an operator endpoint, writing 404 or 500 on failure.
func loadSite(c *gin.Context, sites SiteGetter, siteID int64, logger zerolog.Logger) (*models.Site, bool) {
	site, err := sites.GetSiteByID(c.Request.Context(), siteID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return nil, false
	}
	if err != nil {
		logger.Error().Err(err).Int64("site_id", siteID).Msg("failed to load site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load site"})
		return nil, false
	}
	return site, true
}

// parseSiteID reads the :siteId path parameter, writing 400 when it is not a positive integer.
func parseSiteID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("siteId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid site ID"})
		return 0, false
	}
	return id, true
}
