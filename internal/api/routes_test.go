package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/auth"
	"github.com/MacJediWizard/bpcmon/internal/commands"
	"github.com/MacJediWizard/bpcmon/internal/crypto"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/metrics"
	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/MacJediWizard/bpcmon/internal/notifications"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// emptyStore has no sites.
type emptyStore struct{}

func (emptyStore) GetSiteByID(context.Context, int64) (*models.Site, error) { return nil, db.ErrNotFound }
func (emptyStore) ListSites(context.Context) ([]*models.Site, error)        { return nil, nil }
func (emptyStore) CreateSite(context.Context, *models.Site) error           { return nil }
func (emptyStore) SetAgentToken(context.Context, int64, string) error       { return db.ErrNotFound }
func (emptyStore) TouchAgentContact(context.Context, int64, time.Time) error {
	return db.ErrNotFound
}
func (emptyStore) RegisterAgent(context.Context, int64, string, string, time.Time) error {
	return db.ErrNotFound
}
func (emptyStore) ReplaceSiteRecords(context.Context, int64, []models.BackupRecord) error {
	return db.ErrNotFound
}
func (emptyStore) ListBackupRecords(context.Context, int64) ([]models.BackupRecord, error) {
	return nil, nil
}
func (emptyStore) Ping(context.Context) error { return nil }
func (emptyStore) Health() map[string]any     { return map[string]any{} }

func testRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys, err := crypto.NewKeyManager(key)
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	sessions, err := auth.NewSessionStore(auth.DefaultSessionConfig([]byte(strings.Repeat("s", 32)), false), zerolog.Nop())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	hub := notifications.NewHub(notifications.DefaultHubConfig(), zerolog.Nop())
	t.Cleanup(hub.Close)

	r, err := NewRouter(DefaultConfig(), Dependencies{
		Store:     emptyStore{},
		Mailbox:   commands.NewMemoryMailbox(),
		Keys:      keys,
		Events:    notifications.NewNotifier(zerolog.Nop(), hub),
		Hub:       hub,
		Operators: auth.NewAuthenticator(),
		Sessions:  sessions,
		Metrics:   m,
		Gatherer:  reg,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestNewRouter_Routes(t *testing.T) {
	r := testRouter(t)

	registered := make(map[string]bool)
	for _, route := range r.Engine.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /api/agent/register",
		"POST /api/agent/config",
		"POST /api/agent/data",
		"POST /api/agent/command/poll",
		"POST /api/agent/command/ack",
		"POST /api/agent/command/:siteId",
		"POST /api/agent/command/bulk/refresh",
		"GET /api/agent/command/:siteId",
		"GET /api/sites",
		"POST /api/sites",
		"POST /api/sites/:siteId/token",
		"GET /api/sites/:siteId/backups",
		"POST /auth/login",
		"POST /auth/logout",
		"GET /health",
		"GET /metrics",
		"GET /ws/sites/:siteId",
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestNewRouter_OperatorRoutesRequireSession(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/agent/command/42", `{"command":"refresh"}`},
		{http.MethodPost, "/api/agent/command/bulk/refresh", `{"site_ids":[42]}`},
		{http.MethodGet, "/api/sites", ""},
		{http.MethodPost, "/api/sites/42/token", ""},
		{http.MethodGet, "/ws/sites/42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.Engine.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestNewRouter_AgentRoutesAreNotSessionGuarded(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/command/poll", strings.NewReader(`{"site_id":42,"agent_token":"tok-42"}`))
	req.Header.Set("Content-Type", "application/json")
	r.Engine.ServeHTTP(w, req)

	// No such site, so the body credentials are rejected rather than the missing session.
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), `"Unauthorized"`) {
		t.Errorf("expected agent 401, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on agent routes")
	}
}
