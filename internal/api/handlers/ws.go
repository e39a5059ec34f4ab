package handlers

import (
	"net/http"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ChannelServer upgrades a request to a websocket subscribed to channel.
type ChannelServer interface {
	Serve(w http.ResponseWriter, r *http.Request, channel string)
}

// WebSocketHandler streams site events to operators.
type WebSocketHandler struct {
	sites  SiteGetter
	hub    ChannelServer
	logger zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(sites SiteGetter, hub ChannelServer, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sites:  sites,
		hub:    hub,
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// RegisterRoutes registers websocket routes. The group must require an admin operator.
func (h *WebSocketHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sites/:siteId", h.SiteEvents)
	r.GET("/agents/:siteId", h.AgentEvents)
}

// SiteEvents streams data updates and host status changes of a site.
// GET /ws/sites/:siteId
func (h *WebSocketHandler) SiteEvents(c *gin.Context) {
	h.serve(c, models.SiteChannel)
}

// AgentEvents streams the commands dispatched to a site's agent.
// GET /ws/agents/:siteId
func (h *WebSocketHandler) AgentEvents(c *gin.Context) {
	h.serve(c, models.AgentChannel)
}

func (h *WebSocketHandler) serve(c *gin.Context, channel func(int64) string) {
	siteID, ok := parseSiteID(c)
	if !ok {
		return
	}
	site, ok := loadSite(c, h.sites, siteID, h.logger)
	if !ok {
		return
	}
	h.hub.Serve(c.Writer, c.Request, channel(site.ID))
}
