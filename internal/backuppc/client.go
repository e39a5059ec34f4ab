// Package backuppc fetches the metrics document from a BackupPC server.
package backuppc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/rs/zerolog"
)

// FetchTimeout bounds each authentication attempt.
const FetchTimeout = 30 * time.Second

// MetricsPath is appended to the BackupPC base URL.
const MetricsPath = "/BackupPC_Admin?action=metrics&format=json"

// maxBodySize caps the metrics response read into memory.
const maxBodySize = 32 << 20

var (
	// ErrMetricsFetch matches every *MetricsFetchError.
	ErrMetricsFetch = errors.New("fetch metrics")
	// ErrNoStrategy is the last error when the credentials allow no attempt.
	ErrNoStrategy = errors.New("no usable authentication method configured")
	// ErrUnauthorized is recorded when BackupPC answers 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// MetricsFetchError is returned when every authentication attempt failed.
type MetricsFetchError struct {
	Attempts int
	LastErr  error
}

func (e *MetricsFetchError) Error() string {
	return fmt.Sprintf("all authentication methods failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Is makes errors.Is(err, ErrMetricsFetch) hold.
func (e *MetricsFetchError) Is(target error) bool {
	return target == ErrMetricsFetch
}

func (e *MetricsFetchError) Unwrap() error {
	return e.LastErr
}

// StatusError records a non-200 response.
type StatusError struct {
	Strategy   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d with %s method", e.StatusCode, e.Strategy)
}

// Is maps 401 responses to ErrUnauthorized.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client fetches metrics, trying each authentication strategy in order.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	creds      Credentials
	strategies []Strategy
	lastWinner string

	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a metrics client. A nil httpClient uses one with FetchTimeout.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: FetchTimeout}
	}
	c := &Client{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "backuppc").Logger(),
	}
	c.Reconfigure(baseURL, creds)
	return c
}

// Reconfigure replaces the base URL and credentials in place.
func (c *Client) Reconfigure(baseURL string, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.creds = creds
	c.strategies = Strategies(creds)
}

// LastStrategy returns the name of the strategy that last succeeded, if any.
func (c *Client) LastStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastWinner
}

// FetchMetrics returns the first metrics document served with HTTP 200 and a
// decodable JSON object. Failed attempts never stop the iteration.
func (c *Client) FetchMetrics(ctx context.Context) (*models.MetricsDocument, error) {
	c.mu.RLock()
	url := c.baseURL + MetricsPath
	strategies := c.strategies
	c.mu.RUnlock()

	var lastErr error = ErrNoStrategy
	attempts := 0

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++
		c.logger.Debug().Str("method", s.Name()).Msg("trying authentication method")

		doc, err := c.attempt(ctx, url, s)
		if err == nil {
			c.mu.Lock()
			c.lastWinner = s.Name()
			c.mu.Unlock()
			c.logger.Debug().Str("method", s.Name()).Msg("authenticated with BackupPC")
			return doc, nil
		}

		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode != http.StatusUnauthorized {
			c.logger.Warn().Int("status", se.StatusCode).Str("method", s.Name()).Msg("HTTP error fetching metrics from BackupPC")
		}
	}

	return nil, &MetricsFetchError{Attempts: attempts, LastErr: lastErr}
}

func (c *Client) attempt(ctx context.Context, url string, s Strategy) (*models.MetricsDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	s.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s method: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s method: read response: %w", s.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Strategy: s.Name(), StatusCode: resp.StatusCode}
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("%s method: %w", s.Name(), err)
	}
	return doc, nil
}

func decodeDocument(body []byte) (*models.MetricsDocument, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("decode metrics: response is not a JSON object")
	}
	var doc models.MetricsDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &doc, nil
}
