package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/crypto"
	"github.com/MacJediWizard/bpcmon/internal/db"
	"github.com/MacJediWizard/bpcmon/internal/models"
)

// testNow is the fixed clock used by handler tests.
var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// mockSiteStore is an in-memory implementation of the handler store interfaces.
type mockSiteStore struct {
	mu       sync.Mutex
	sites    map[int64]*models.Site
	records  map[int64][]models.BackupRecord
	contacts map[int64]time.Time
	nextID   int64

	getErr     error
	replaceErr error
	createErr  error

	replaceCalls int
}

func newMockSiteStore(sites ...*models.Site) *mockSiteStore {
	s := &mockSiteStore{
		sites:    make(map[int64]*models.Site),
		records:  make(map[int64][]models.BackupRecord),
		contacts: make(map[int64]time.Time),
		nextID:   100,
	}
	for _, site := range sites {
		s.sites[site.ID] = site
	}
	return s
}

func (m *mockSiteStore) GetSiteByID(_ context.Context, id int64) (*models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	site, ok := m.sites[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *site
	return &cp, nil
}

func (m *mockSiteStore) ListSites(_ context.Context) ([]*models.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]*models.Site, 0, len(m.sites))
	for _, s := range m.sites {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSiteStore) CreateSite(_ context.Context, site *models.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if site.ConnectionMethod == "" {
		site.ConnectionMethod = models.ConnectionSSH
	}
	if site.PollingInterval == 0 {
		site.PollingInterval = models.DefaultPollingInterval
	}
	site.ID = m.nextID
	m.nextID++
	site.CreatedAt = testNow
	site.UpdatedAt = testNow
	cp := *site
	m.sites[site.ID] = &cp
	return nil
}

func (m *mockSiteStore) TouchAgentContact(_ context.Context, siteID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok {
		return db.ErrNotFound
	}
	m.contacts[siteID] = at
	site.LastAgentContact = &at
	return nil
}

func (m *mockSiteStore) RegisterAgent(_ context.Context, siteID int64, version, hostname string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok {
		return db.ErrNotFound
	}
	if version != "" {
		site.AgentVersion = &version
	}
	if hostname != "" {
		site.AgentHostname = &hostname
	}
	site.LastAgentContact = &at
	m.contacts[siteID] = at
	return nil
}

func (m *mockSiteStore) SetAgentToken(_ context.Context, siteID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok {
		return db.ErrNotFound
	}
	site.AgentToken = &token
	site.ConnectionMethod = models.ConnectionAgent
	return nil
}

func (m *mockSiteStore) ReplaceSiteRecords(_ context.Context, siteID int64, records []models.BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	if _, ok := m.sites[siteID]; !ok {
		return db.ErrNotFound
	}
	m.records[siteID] = append([]models.BackupRecord(nil), records...)
	return nil
}

func (m *mockSiteStore) ListBackupRecords(_ context.Context, siteID int64) ([]models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BackupRecord(nil), m.records[siteID]...), nil
}

func (m *mockSiteStore) hostNames(siteID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, r := range m.records[siteID] {
		names = append(names, r.HostName)
	}
	return names
}

func (m *mockSiteStore) contact(siteID int64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.contacts[siteID]
	return at, ok
}

// recordingPublisher captures published site events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SiteEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.SiteEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) published() []models.SiteEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SiteEvent(nil), p.events...)
}

// brokenSecrets fails every encryption and decryption.
type brokenSecrets struct{}

func (brokenSecrets) EncryptString(string) (string, error) { return "", errors.New("cipher unavailable") }
func (brokenSecrets) DecryptString(string) (string, error) { return "", crypto.ErrDecryptionFailed }

func testKeyManager(t *testing.T) *crypto.KeyManager {
	t.Helper()
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	km, err := crypto.NewKeyManager(key)
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	return km
}

// agentSite returns site 42 with agent token tok-42 and encrypted BackupPC credentials.
func agentSite(t *testing.T, km *crypto.KeyManager) *models.Site {
	t.Helper()
	password, err := km.EncryptString("s3cret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return &models.Site{
		ID:               42,
		Name:             "Main Office",
		BackupPCURL:      "http://backuppc.local/BackupPC_Admin",
		ConnectionMethod: models.ConnectionAgent,
		PollingInterval:  15,
		BackupPCUsername: "backuppc",
		BackupPCPassword: password,
		AgentToken:       strPtr("tok-42"),
		IsActive:         true,
	}
}

// tokenlessSite returns a site that still uses SSH and has no agent token.
func tokenlessSite() *models.Site {
	return &models.Site{
		ID:               7,
		Name:             "Branch",
		BackupPCURL:      "http://branch.local/BackupPC_Admin",
		ConnectionMethod: models.ConnectionSSH,
		PollingInterval:  models.DefaultPollingInterval,
		IsActive:         true,
	}
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
}
