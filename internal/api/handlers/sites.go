package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MacJediWizard/bpcmon/internal/api/middleware"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SiteStore defines the persistence operations of the site endpoints.
type SiteStore interface {
	SiteGetter
	ListSites(ctx context.Context) ([]*models.Site, error)
	CreateSite(ctx context.Context, site *models.Site) error
	SetAgentToken(ctx context.Context, siteID int64, token string) error
	ListBackupRecords(ctx context.Context, siteID int64) ([]models.BackupRecord, error)
}

// SecretEncrypter encrypts site credentials before they are stored.
type SecretEncrypter interface {
	EncryptString(plaintext string) (string, error)
}

// SitesHandler handles operator site management.
type SitesHandler struct {
	store         SiteStore
	secrets       SecretEncrypter
	generateToken func() (string, error)
	logger        zerolog.Logger
}

// NewSitesHandler creates a new SitesHandler. generateToken produces new agent tokens.
func NewSitesHandler(store SiteStore, secrets SecretEncrypter, generateToken func() (string, error), logger zerolog.Logger) *SitesHandler {
	return &SitesHandler{
		store:         store,
		secrets:       secrets,
		generateToken: generateToken,
		logger:        logger.With().Str("component", "sites_handler").Logger(),
	}
}

// RegisterRoutes registers site routes. The group must require an admin operator.
func (h *SitesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sites", h.List)
	r.POST("/sites", h.Create)
	r.POST("/sites/:siteId/token", h.RotateToken)
	r.GET("/sites/:siteId/backups", h.Backups)
}

// CreateSiteRequest is the request body for creating a site.
type CreateSiteRequest struct {
	Name             string                  `json:"name" binding:"required,max=255"`
	Description      string                  `json:"description"`
	BackupPCURL      string                  `json:"backuppc_url" binding:"required,url"`
	ConnectionMethod models.ConnectionMethod `json:"connection_method" binding:"omitempty,oneof=ssh agent"`
	PollingInterval  int                     `json:"polling_interval" binding:"omitempty,min=5,max=1440"`
	BackupPCUsername string                  `json:"backuppc_username"`
	BackupPCPassword string                  `json:"backuppc_password"`
	APIKey           string                  `json:"api_key"`
}

// TokenResponse returns a freshly generated agent token. It is shown once.
type TokenResponse struct {
	SiteID           int64                   `json:"site_id"`
	AgentToken       string                  `json:"agent_token"`
	ConnectionMethod models.ConnectionMethod `json:"connection_method"`
}

// List returns all sites. Credentials are never included.
// GET /api/sites
func (h *SitesHandler) List(c *gin.Context) {
	sites, err := h.store.ListSites(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sites")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sites"})
		return
	}
	if sites == nil {
		sites = []*models.Site{}
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

// Create adds a site. The BackupPC password and API key are encrypted before storage.
// POST /api/sites
func (h *SitesHandler) Create(c *gin.Context) {
	var req CreateSiteRequest
	if !bindJSON(c, &req) {
		return
	}

	password, err := h.secrets.EncryptString(req.BackupPCPassword)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt backuppc password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create site"})
		return
	}
	apiKey, err := h.secrets.EncryptString(req.APIKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt api key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create site"})
		return
	}

	site := &models.Site{
		Name:             req.Name,
		Description:      req.Description,
		BackupPCURL:      req.BackupPCURL,
		ConnectionMethod: req.ConnectionMethod,
		PollingInterval:  req.PollingInterval,
		BackupPCUsername: req.BackupPCUsername,
		BackupPCPassword: password,
		APIKey:           apiKey,
		IsActive:         true,
	}
	if err := h.store.CreateSite(c.Request.Context(), site); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("failed to create site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create site"})
		return
	}

	h.operatorLog(c).Int64("site_id", site.ID).Str("name", site.Name).Msg("site created")
	c.JSON(http.StatusCreated, site)
}

// RotateToken generates a new agent token for a site, invalidating the old
// one, and switches the site to agent connections.
// POST /api/sites/:siteId/token
func (h *SitesHandler) RotateToken(c *gin.Context) {
	siteID, ok := parseSiteID(c)
	if !ok {
		return
	}

	token, err := h.generateToken()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate agent token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate agent token"})
		return
	}

	err = h.store.SetAgentToken(c.Request.Context(), siteID, token)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", siteID).Msg("failed to store agent token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store agent token"})
		return
	}

	h.operatorLog(c).Int64("site_id", siteID).Msg("agent token rotated")
	c.JSON(http.StatusOK, TokenResponse{
		SiteID:           siteID,
		AgentToken:       token,
		ConnectionMethod: models.ConnectionAgent,
	})
}

// Backups returns the records stored by the site's latest push. host_count
// excludes the server, disk and pool rows.
// GET /api/sites/:siteId/backups
func (h *SitesHandler) Backups(c *gin.Context) {
	siteID, ok := parseSiteID(c)
	if !ok {
		return
	}
	site, ok := loadSite(c, h.store, siteID, h.logger)
	if !ok {
		return
	}

	records, err := h.store.ListBackupRecords(c.Request.Context(), site.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to list backup records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list backup records"})
		return
	}
	if records == nil {
		records = []models.BackupRecord{}
	}
	hosts := 0
	for i := range records {
		if !records[i].IsPseudo() {
			hosts++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"site_id":            site.ID,
		"last_agent_contact": site.LastAgentContact,
		"host_count":         hosts,
		"records":            records,
	})
}

func (h *SitesHandler) operatorLog(c *gin.Context) *zerolog.Event {
	event := h.logger.Info()
	if op := middleware.GetOperator(c); op != nil {
		event = event.Str("operator", op.Username)
	}
	return event
}
