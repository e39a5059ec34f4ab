// Package agent implements the bpcmon agent: the collector client, change
// detection, command execution and the polling loop.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MacJediWizard/bpcmon/pkg/models"
)

// Per-call timeouts against the collector.
const (
	PushTimeout        = 30 * time.Second
	CommandPollTimeout = 5 * time.Second
	AckTimeout         = 5 * time.Second
)

var (
	// ErrUnauthorized is returned when the collector rejects the agent token.
	ErrUnauthorized = errors.New("authentication failed - check agent token")
	// ErrUnknownCommand is reported for command kinds this agent does not implement.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotAccepted is returned when a 2xx push response does not report success.
	ErrNotAccepted = errors.New("collector did not accept the push")
)

// HTTPStatusError is returned for non-2xx collector responses.
type HTTPStatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("collector returned %d for %s: %s", e.StatusCode, e.Path, e.Body)
}

// Is maps 401 responses to ErrUnauthorized.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Collector is an HTTP client for the collector's agent API.
type Collector struct {
	baseURL    string
	creds      models.AgentCredentials
	httpClient *http.Client
}

// NewCollector creates a collector client. Per-call deadlines come from the
// context; httpClient's own timeout should be at least PushTimeout.
func NewCollector(baseURL string, siteID int64, token string, httpClient *http.Client) *Collector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: PushTimeout}
	}
	return &Collector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      models.AgentCredentials{SiteID: siteID, AgentToken: token},
		httpClient: httpClient,
	}
}

// Register announces the agent to the collector.
func (c *Collector) Register(ctx context.Context, version, hostname string, osInfo *models.OSInfo) (*models.RegisterResponse, error) {
	req := models.RegisterRequest{
		AgentCredentials: c.creds,
		AgentVersion:     version,
		Hostname:         hostname,
		OSInfo:           osInfo,
	}
	var resp models.RegisterResponse
	if err := c.post(ctx, "/api/agent/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &resp, nil
}

// FetchConfig retrieves the site configuration stored on the collector.
func (c *Collector) FetchConfig(ctx context.Context) (*models.SiteConfigResponse, error) {
	var resp models.SiteConfigResponse
	if err := c.post(ctx, "/api/agent/config", c.creds, &resp); err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	return &resp, nil
}

// Push sends a metrics document. The response must report success.
func (c *Collector) Push(ctx context.Context, push models.DataPushRequest) (*models.DataPushResponse, error) {
	push.AgentCredentials = c.creds
	var resp models.DataPushResponse
	if err := c.post(ctx, "/api/agent/data", push, &resp); err != nil {
		return nil, fmt.Errorf("push data: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("push data: %w", ErrNotAccepted)
	}
	return &resp, nil
}

// Heartbeat sends a heartbeat event carrying only a timestamp.
func (c *Collector) Heartbeat(ctx context.Context, now time.Time) error {
	push := models.DataPushRequest{
		EventType: models.EventHeartbeat,
		Data: &models.MetricsDocument{
			Type:      string(models.EventHeartbeat),
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
	if _, err := c.Push(ctx, push); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// PollCommand asks for the pending command. It returns nil when none is pending.
func (c *Collector) PollCommand(ctx context.Context) (*models.CommandPollResponse, error) {
	var resp models.CommandPollResponse
	if err := c.post(ctx, "/api/agent/command/poll", c.creds, &resp); err != nil {
		return nil, fmt.Errorf("poll command: %w", err)
	}
	if resp.Command == nil {
		return nil, nil
	}
	return &resp, nil
}

// Ack acknowledges an executed command.
func (c *Collector) Ack(ctx context.Context, commandID string) error {
	req := models.CommandAckRequest{
		AgentCredentials: c.creds,
		CommandID:        commandID,
		Status:           models.AckStatusExecuted,
		Result:           models.AckResultSuccess,
	}
	if err := c.post(ctx, "/api/agent/command/ack", req, nil); err != nil {
		return fmt.Errorf("ack command: %w", err)
	}
	return nil
}

func (c *Collector) post(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
