package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/commands"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/MacJediWizard/bpcmon/internal/models"
	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Endpoint labels used for metrics and logs.
const (
	endpointRegister = "register"
	endpointConfig   = "config"
	endpointData     = "data"
	endpointPoll     = "poll"
	endpointAck      = "ack"
)

// Push results recorded by RecordPush.
const (
	pushStored    = "stored"
	pushHeartbeat = "heartbeat"
	pushRejected  = "rejected"
)

// AgentAPIStore defines the persistence operations of the agent endpoints.
type AgentAPIStore interface {
	SiteGetter
	TouchAgentContact(ctx context.Context, siteID int64, at time.Time) error
	RegisterAgent(ctx context.Context, siteID int64, version, hostname string, at time.Time) error
	ReplaceSiteRecords(ctx context.Context, siteID int64, records []models.BackupRecord) error
}

// SecretDecrypter decrypts site credentials stored at rest.
type SecretDecrypter interface {
	DecryptString(encoded string) (string, error)
}

// EventPublisher fans site events out to notification channels.
type EventPublisher interface {
	Publish(ctx context.Context, event models.SiteEvent)
}

// AgentAPIHandler handles the agent-facing endpoints. Agents authenticate
// with the site_id and agent_token in every request body.
type AgentAPIHandler struct {
	store        AgentAPIStore
	mailbox      commands.Mailbox
	secrets      SecretDecrypter
	events       EventPublisher
	metrics      *metrics.PrometheusMetrics
	auth         agentAuthenticator
	dashboardURL string
	now          func() time.Time
	logger       zerolog.Logger
}

// NewAgentAPIHandler creates a new AgentAPIHandler.
func NewAgentAPIHandler(
	store AgentAPIStore,
	mailbox commands.Mailbox,
	secrets SecretDecrypter,
	events EventPublisher,
	m *metrics.PrometheusMetrics,
	dashboardURL string,
	logger zerolog.Logger,
) *AgentAPIHandler {
	log := logger.With().Str("component", "agent_api_handler").Logger()
	return &AgentAPIHandler{
		store:        store,
		mailbox:      mailbox,
		secrets:      secrets,
		events:       events,
		metrics:      m,
		auth:         agentAuthenticator{sites: store, metrics: m, logger: log},
		dashboardURL: dashboardURL,
		now:          time.Now,
		logger:       log,
	}
}

// RegisterRoutes registers agent API routes on the given router group.
func (h *AgentAPIHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.Register)
	r.POST("/config", h.Config)
	r.POST("/data", h.ReceiveData)
	r.POST("/command/poll", h.PollCommand)
	r.POST("/command/ack", h.AcknowledgeCommand)
}

// Register records the agent's version and hostname.
// POST /api/agent/register
func (h *AgentAPIHandler) Register(c *gin.Context) {
	var req pkgmodels.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	site := h.auth.authenticate(c, endpointRegister, req.AgentCredentials)
	if site == nil {
		return
	}

	now := h.now()
	if err := h.store.RegisterAgent(c.Request.Context(), site.ID, req.AgentVersion, req.Hostname, now); err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to register agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register agent"})
		return
	}

	event := h.logger.Info().
		Int64("site_id", site.ID).
		Str("site", site.Name).
		Str("agent_version", req.AgentVersion).
		Str("hostname", req.Hostname)
	if req.OSInfo != nil {
		event = event.Str("os", req.OSInfo.OS).Str("platform", req.OSInfo.Platform)
	}
	event.Msg("agent registered")

	c.JSON(http.StatusOK, pkgmodels.RegisterResponse{
		Success:      true,
		SiteID:       site.ID,
		SiteName:     site.Name,
		DashboardURL: h.dashboardURL,
		WSChannel:    site.Channel(),
		Timestamp:    now.UTC().Format(time.RFC3339),
	})
}

// Config returns the site's BackupPC settings with credentials decrypted.
// POST /api/agent/config
func (h *AgentAPIHandler) Config(c *gin.Context) {
	var req pkgmodels.AgentCredentials
	if !bindJSON(c, &req) {
		return
	}
	site := h.auth.authenticate(c, endpointConfig, req)
	if site == nil {
		return
	}

	password, err := h.secrets.DecryptString(site.BackupPCPassword)
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to decrypt backuppc password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decrypt site credentials"})
		return
	}
	apiKey, err := h.secrets.DecryptString(site.APIKey)
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to decrypt api key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decrypt site credentials"})
		return
	}

	authType := pkgmodels.AuthTypeBasic
	if apiKey != "" {
		authType = pkgmodels.AuthTypeAPIKey
	}

	c.JSON(http.StatusOK, pkgmodels.SiteConfigResponse{
		SiteID:           site.ID,
		BackupPCURL:      site.BackupPCURL,
		PollingInterval:  site.PollingInterval,
		BackupPCUsername: site.BackupPCUsername,
		BackupPCPassword: password,
		APIKey:           apiKey,
		AuthType:         authType,
	})
}

// ReceiveData ingests a metrics push. Unless it is a heartbeat, the site's
// stored records are replaced with the rows of the pushed document.
// POST /api/agent/data
func (h *AgentAPIHandler) ReceiveData(c *gin.Context) {
	var req pkgmodels.DataPushRequest
	if !bindJSON(c, &req) {
		h.metrics.RecordPush("invalid", pushRejected)
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = pkgmodels.EventFullUpdate
	}
	site := h.auth.authenticate(c, endpointData, req.AgentCredentials)
	if site == nil {
		h.metrics.RecordPush(string(eventType), pushRejected)
		return
	}

	ctx := c.Request.Context()
	now := h.now()
	log := h.logger.With().Int64("site_id", site.ID).Str("event_type", string(eventType)).Logger()

	if eventType == pkgmodels.EventHeartbeat {
		if err := h.store.TouchAgentContact(ctx, site.ID, now); err != nil {
			log.Error().Err(err).Msg("failed to record heartbeat")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record heartbeat"})
			return
		}
		h.metrics.RecordPush(string(eventType), pushHeartbeat)
		log.Debug().Msg("agent heartbeat")
		h.respondReceived(c, site.ID, now)
		return
	}

	records := models.RecordsFromDocument(site.ID, req.Data, now)
	if err := h.store.ReplaceSiteRecords(ctx, site.ID, records); err != nil {
		log.Error().Err(err).Msg("failed to store backup data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store backup data"})
		return
	}
	if err := h.store.TouchAgentContact(ctx, site.ID, now); err != nil {
		log.Warn().Err(err).Msg("failed to record agent contact")
	}
	h.metrics.RecordPush(string(eventType), pushStored)
	log.Info().Str("site", site.Name).Int("records", len(records)).Msg("agent data received")

	switch eventType {
	case pkgmodels.EventStatusChange:
		changes := statusChanges(&req)
		if len(changes) == 0 {
			log.Warn().Msg("status change push names no host, nothing to notify")
		}
		for _, ch := range changes {
			h.metrics.RecordStatusChange(ch.NewStatus)
			h.events.Publish(ctx, models.NewStatusChanged(site.ID, ch.Host, ch.OldStatus, ch.NewStatus, hostDetails(req.Data, ch.Host), now))
		}
	default:
		h.events.Publish(ctx, models.NewDataUpdated(site.ID, req.Data, now))
	}

	h.respondReceived(c, site.ID, now)
}

func (h *AgentAPIHandler) respondReceived(c *gin.Context, siteID int64, now time.Time) {
	c.JSON(http.StatusOK, pkgmodels.DataPushResponse{
		Success:   true,
		SiteID:    siteID,
		Message:   "Data received and processed",
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// statusChanges resolves the host transitions a status_change push reports.
// Explicit changes win; otherwise the push names a single host through
// host_name, data.host_name or a one-host document.
func statusChanges(req *pkgmodels.DataPushRequest) []pkgmodels.HostChange {
	doc := req.Data
	if len(req.Changes) > 0 {
		out := make([]pkgmodels.HostChange, 0, len(req.Changes))
		for _, ch := range req.Changes {
			if ch.Host == "" {
				continue
			}
			if ch.NewStatus == "" {
				ch.NewStatus = hostState(doc, ch.Host)
			}
			out = append(out, ch)
		}
		return out
	}

	host := req.HostName
	if host == "" {
		host = doc.HostName
	}
	if host == "" && len(doc.Hosts) == 1 {
		for name := range doc.Hosts {
			host = name
		}
	}
	if host == "" {
		return nil
	}
	return []pkgmodels.HostChange{{
		Host:      host,
		OldStatus: req.OldStatus,
		NewStatus: hostState(doc, host),
	}}
}

func hostState(doc *pkgmodels.MetricsDocument, host string) string {
	if h, ok := doc.Hosts[host]; ok {
		return h.StateOrUnknown()
	}
	if doc.State != "" {
		return doc.State
	}
	return pkgmodels.UnknownState
}

func hostDetails(doc *pkgmodels.MetricsDocument, host string) map[string]any {
	if h, ok := doc.Hosts[host]; ok {
		return h.Raw
	}
	return nil
}

// PollCommand hands the site's pending command to the agent and clears it.
// POST /api/agent/command/poll
func (h *AgentAPIHandler) PollCommand(c *gin.Context) {
	var req pkgmodels.AgentCredentials
	if !bindJSON(c, &req) {
		return
	}
	site := h.auth.authenticate(c, endpointPoll, req)
	if site == nil {
		return
	}

	ctx := c.Request.Context()
	if err := h.store.TouchAgentContact(ctx, site.ID, h.now()); err != nil {
		h.logger.Warn().Err(err).Int64("site_id", site.ID).Msg("failed to record agent contact")
	}

	cmd, err := h.mailbox.PollAndClear(ctx, site.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("site_id", site.ID).Msg("failed to poll command mailbox")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to poll commands"})
		return
	}
	if cmd == nil {
		c.JSON(http.StatusOK, pkgmodels.CommandPollResponse{})
		return
	}

	h.metrics.RecordCommand(string(cmd.Kind), "delivered")
	h.logger.Info().
		Int64("site_id", site.ID).
		Str("command", string(cmd.Kind)).
		Str("command_id", cmd.ID).
		Msg("sending pending command to agent")
	c.JSON(http.StatusOK, cmd.PollResponse())
}

// AcknowledgeCommand records an agent's acknowledgement. Acks are logged only.
// POST /api/agent/command/ack
func (h *AgentAPIHandler) AcknowledgeCommand(c *gin.Context) {
	var req pkgmodels.CommandAckRequest
	if !bindJSON(c, &req) {
		return
	}
	site := h.auth.authenticate(c, endpointAck, req.AgentCredentials)
	if site == nil {
		return
	}

	h.metrics.RecordAck(req.Status)
	h.logger.Info().
		Int64("site_id", site.ID).
		Str("site", site.Name).
		Str("command_id", req.CommandID).
		Str("status", req.Status).
		Str("result", req.Result).
		Msg("agent acknowledged command")

	c.JSON(http.StatusOK, pkgmodels.SuccessResponse{Success: true})
}
