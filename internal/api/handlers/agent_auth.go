package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MacJediWizard/bpcmon/internal/crypto"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/MacJediWizard/bpcmon/internal/models"
	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SiteGetter loads a site by id, returning db.ErrNotFound when it does not exist.
type SiteGetter interface {
	GetSiteByID(ctx context.Context, id int64) (*models.Site, error)
}

// agentAuthenticator checks the site_id and agent_token carried in agent
// request bodies. It runs after validation, so a malformed request is
// reported as 422 even when its credentials are also wrong.
type agentAuthenticator struct {
	sites   SiteGetter
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
}

// authenticate returns the site owning creds, or writes 401 (500 on store
// failure) and returns nil.
func (a *agentAuthenticator) authenticate(c *gin.Context, endpoint string, creds pkgmodels.AgentCredentials) *models.Site {
	site, err := a.sites.GetSiteByID(c.Request.Context(), creds.SiteID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		a.logger.Error().Err(err).Int64("site_id", creds.SiteID).Str("endpoint", endpoint).Msg("failed to load site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load site"})
		return nil
	}

	if site == nil || site.AgentToken == nil || !crypto.TokensEqual(*site.AgentToken, creds.AgentToken) {
		a.metrics.RecordAuthFailure(endpoint)
		a.logger.Warn().
			Int64("site_id", creds.SiteID).
			Str("endpoint", endpoint).
			Str("client_ip", c.ClientIP()).
			Msg("agent authentication failed")
		c.JSON(http.StatusUnauthorized, pkgmodels.APIError{Error: "Unauthorized"})
		return nil
	}
	return site
}
