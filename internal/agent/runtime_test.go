package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/backuppc"
	"github.com/MacJediWizard/bpcmon/internal/config"
	"github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/rs/zerolog"
)

type fakeCollector struct {
	calls       []string
	pushes      []models.DataPushRequest
	acks        []string
	commands    []*models.CommandPollResponse // one per poll; nil means none pending
	siteConfig  *models.SiteConfigResponse
	pushErr     func(n int) error
	registerErr error
}

func (f *fakeCollector) Register(ctx context.Context, version, hostname string, osInfo *models.OSInfo) (*models.RegisterResponse, error) {
	f.calls = append(f.calls, "register")
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.RegisterResponse{Success: true, SiteID: 42, WSChannel: "site.42"}, nil
}

func (f *fakeCollector) FetchConfig(ctx context.Context) (*models.SiteConfigResponse, error) {
	f.calls = append(f.calls, "config")
	if f.siteConfig == nil {
		return nil, errors.New("no config")
	}
	return f.siteConfig, nil
}

func (f *fakeCollector) Push(ctx context.Context, push models.DataPushRequest) (*models.DataPushResponse, error) {
	f.calls = append(f.calls, "push")
	f.pushes = append(f.pushes, push)
	if f.pushErr != nil {
		if err := f.pushErr(len(f.pushes)); err != nil {
			return nil, err
		}
	}
	return &models.DataPushResponse{Success: true}, nil
}

func (f *fakeCollector) Heartbeat(ctx context.Context, now time.Time) error {
	f.calls = append(f.calls, "heartbeat")
	return nil
}

func (f *fakeCollector) PollCommand(ctx context.Context) (*models.CommandPollResponse, error) {
	f.calls = append(f.calls, "poll")
	if len(f.commands) == 0 {
		return nil, nil
	}
	cmd := f.commands[0]
	f.commands = f.commands[1:]
	return cmd, nil
}

func (f *fakeCollector) Ack(ctx context.Context, commandID string) error {
	f.calls = append(f.calls, "ack")
	f.acks = append(f.acks, commandID)
	return nil
}

type fakeSource struct {
	docs        []*models.MetricsDocument
	fetches     int
	reconfigURL string
	reconfigCrd backuppc.Credentials
	strategy    string
}

func (s *fakeSource) LastStrategy() string { return s.strategy }

func (s *fakeSource) FetchMetrics(ctx context.Context) (*models.MetricsDocument, error) {
	s.fetches++
	if len(s.docs) == 0 {
		return nil, errors.New("no metrics")
	}
	d := s.docs[0]
	if len(s.docs) > 1 {
		s.docs = s.docs[1:]
	}
	return d, nil
}

func (s *fakeSource) Reconfigure(baseURL string, creds backuppc.Credentials) {
	s.reconfigURL = baseURL
	s.reconfigCrd = creds
}

func command(kind models.CommandKind, id string) *models.CommandPollResponse {
	return &models.CommandPollResponse{Command: &kind, CommandID: id}
}

func testConfig() *config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.SiteID = 42
	cfg.AgentToken = "tok-42"
	return cfg
}

// newTestRuntime returns a runtime whose ticker delivers n ticks immediately.
func newTestRuntime(cfg *config.AgentConfig, c *fakeCollector, s *fakeSource, n int) *Runtime {
	r := NewRuntime(cfg, Identity{Version: "test", Hostname: "backup01"}, c, s, zerolog.Nop())
	ticks := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		ticks <- time.Now()
	}
	r.newTicker = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }
	return r
}

func runWithTimeout(t *testing.T, r *Runtime, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestRuntime_StatusChangeThenFullUpdate(t *testing.T) {
	c := &fakeCollector{commands: []*models.CommandPollResponse{nil, nil, command(models.CommandStop, "cmd_stop")}}
	s := &fakeSource{docs: []*models.MetricsDocument{
		hostDoc(map[string]string{"h": "idle"}),
		hostDoc(map[string]string{"h": "backup_in_progress"}),
		hostDoc(map[string]string{"h": "backup_in_progress"}),
	}}

	r := newTestRuntime(testConfig(), c, s, 5)
	runWithTimeout(t, r, context.Background())

	if len(c.pushes) != 3 {
		t.Fatalf("expected 3 pushes, got %d", len(c.pushes))
	}
	want := []models.EventType{models.EventFullUpdate, models.EventStatusChange, models.EventFullUpdate}
	for i, w := range want {
		if c.pushes[i].EventType != w {
			t.Errorf("push %d: EventType = %s, want %s", i, c.pushes[i].EventType, w)
		}
	}
	change := c.pushes[1]
	if change.HostName != "h" || change.OldStatus == nil || *change.OldStatus != "idle" {
		t.Errorf("unexpected status change push: %+v", change)
	}
	if r.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", r.State())
	}
	if len(c.acks) != 1 || c.acks[0] != "cmd_stop" {
		t.Errorf("expected stop acknowledged, got %v", c.acks)
	}
}

func TestRuntime_SnapshotUpdatedWhenPushFails(t *testing.T) {
	c := &fakeCollector{
		commands: []*models.CommandPollResponse{nil, nil, command(models.CommandStop, "s")},
		pushErr: func(n int) error {
			if n == 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	s := &fakeSource{docs: []*models.MetricsDocument{
		hostDoc(map[string]string{"h": "idle"}),
		hostDoc(map[string]string{"h": "backup_in_progress"}),
		hostDoc(map[string]string{"h": "backup_in_progress"}),
	}}

	r := newTestRuntime(testConfig(), c, s, 5)
	runWithTimeout(t, r, context.Background())

	if len(c.pushes) != 3 {
		t.Fatalf("expected 3 pushes, got %d", len(c.pushes))
	}
	if c.pushes[2].EventType != models.EventFullUpdate {
		t.Errorf("lost push must not be re-announced, got %s", c.pushes[2].EventType)
	}
}

func TestRuntime_RefreshCommand(t *testing.T) {
	c := &fakeCollector{commands: []*models.CommandPollResponse{
		command(models.CommandRefresh, "cmd_refresh"),
		command(models.CommandStop, "cmd_stop"),
	}}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

	r := newTestRuntime(testConfig(), c, s, 5)
	runWithTimeout(t, r, context.Background())

	// register, config, initial push, then tick 1: poll, refresh push, ack, normal push.
	want := []string{"register", "config", "push", "poll", "push", "ack", "push", "poll", "ack"}
	if len(c.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", c.calls, want)
	}
	for i := range want {
		if c.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", c.calls, want)
		}
	}
	if c.acks[0] != "cmd_refresh" {
		t.Errorf("acks = %v", c.acks)
	}
}

func TestRuntime_StatusCommandSendsHeartbeat(t *testing.T) {
	c := &fakeCollector{commands: []*models.CommandPollResponse{
		command(models.CommandStatus, "cmd_status"),
		command(models.CommandStop, "cmd_stop"),
	}}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

	r := newTestRuntime(testConfig(), c, s, 5)
	runWithTimeout(t, r, context.Background())

	if c.calls[3] != "poll" || c.calls[4] != "heartbeat" || c.calls[5] != "ack" {
		t.Errorf("unexpected call order: %v", c.calls)
	}
}

func TestRuntime_UnknownCommandIsNotAcknowledged(t *testing.T) {
	c := &fakeCollector{commands: []*models.CommandPollResponse{
		command("reboot", "cmd_unknown"),
		command(models.CommandStop, "cmd_stop"),
	}}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

	r := newTestRuntime(testConfig(), c, s, 5)
	runWithTimeout(t, r, context.Background())

	for _, id := range c.acks {
		if id == "cmd_unknown" {
			t.Fatal("unknown command must not be acknowledged")
		}
	}
	// The loop keeps running after an unknown command.
	if len(c.acks) != 1 || c.acks[0] != "cmd_stop" {
		t.Errorf("acks = %v", c.acks)
	}
}

func TestRuntime_AckAlwaysReportsSuccess(t *testing.T) {
	// A refresh whose fetch fails is still acknowledged as executed/success.
	c := &fakeCollector{}
	s := &fakeSource{}
	r := NewRuntime(testConfig(), Identity{}, c, s, zerolog.Nop())

	r.handleCommand(context.Background(), command(models.CommandRefresh, "cmd_refresh"))

	if s.fetches != 1 {
		t.Errorf("expected one fetch, got %d", s.fetches)
	}
	if len(c.pushes) != 0 {
		t.Errorf("failed fetch must not push, got %d pushes", len(c.pushes))
	}
	if len(c.acks) != 1 || c.acks[0] != "cmd_refresh" {
		t.Errorf("acks = %v", c.acks)
	}
}

func TestRuntime_RestartCommand(t *testing.T) {
	c := &fakeCollector{commands: []*models.CommandPollResponse{command(models.CommandRestart, "cmd_restart")}}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

	r := newTestRuntime(testConfig(), c, s, 5)
	var ackedBeforeSpawn bool
	spawned := 0
	r.OnRestart = func() error {
		spawned++
		ackedBeforeSpawn = len(c.acks) == 1
		return nil
	}
	runWithTimeout(t, r, context.Background())

	if spawned != 1 {
		t.Fatalf("expected one spawn, got %d", spawned)
	}
	if !ackedBeforeSpawn {
		t.Error("restart must be acknowledged before spawning")
	}
	if r.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", r.State())
	}
}

func TestRuntime_CancelledContextStops(t *testing.T) {
	c := &fakeCollector{}
	s := &fakeSource{}
	r := NewRuntime(testConfig(), Identity{}, c, s, zerolog.Nop())
	r.newTicker = func(time.Duration) (<-chan time.Time, func()) { return make(chan time.Time), func() {} }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runWithTimeout(t, r, ctx)

	if r.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", r.State())
	}
	if s.fetches != 0 {
		t.Errorf("no fetch expected after cancellation, got %d", s.fetches)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}

func TestRuntime_RegistrationFailureIsNotFatal(t *testing.T) {
	c := &fakeCollector{
		registerErr: &HTTPStatusError{StatusCode: 401},
		commands:    []*models.CommandPollResponse{command(models.CommandStop, "s")},
	}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

	r := newTestRuntime(testConfig(), c, s, 2)
	runWithTimeout(t, r, context.Background())

	if len(c.pushes) == 0 {
		t.Error("expected the agent to keep running after a failed registration")
	}
}

func TestRuntime_AppliesSiteConfig(t *testing.T) {
	c := &fakeCollector{
		siteConfig: &models.SiteConfigResponse{
			PollingInterval:  120,
			BackupPCURL:      "https://backuppc.lan/BackupPC",
			BackupPCUsername: "monitor",
			APIKey:           "key",
		},
		commands: []*models.CommandPollResponse{command(models.CommandStop, "s")},
	}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(nil)}}

	cfg := testConfig()
	cfg.BackupPCPassword = "local-pass"
	r := newTestRuntime(cfg, c, s, 1)
	runWithTimeout(t, r, context.Background())

	if got := r.Config().PollingInterval; got != 120 {
		t.Errorf("PollingInterval = %d, want 120", got)
	}
	if s.reconfigURL != "https://backuppc.lan/BackupPC" {
		t.Errorf("Reconfigure URL = %q", s.reconfigURL)
	}
	want := backuppc.Credentials{Username: "monitor", Password: "local-pass", APIKey: "key"}
	if s.reconfigCrd != want {
		t.Errorf("Reconfigure creds = %+v, want %+v", s.reconfigCrd, want)
	}
}

func TestRuntime_IndependentCadences(t *testing.T) {
	tests := []struct {
		name                      string
		poll, cmdPoll, heartbeat  int
		wantPolls, wantHeartbeats int
		wantPushes                int
	}{
		// Polls on ticks 3 and 6, heartbeats on ticks 2 and 4; tick 6 stops before its heartbeat.
		// Pushes are the initial one plus ticks 1 to 5.
		{"whole multiples", 10, 30, 20, 2, 2, 6},
		// 90s over a 60s tick rounds up: polls on ticks 2 and 4, no heartbeat before the stop.
		{"command poll rounds up", 60, 90, 300, 2, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.PollingInterval = tt.poll
			cfg.CommandPollInterval = tt.cmdPoll
			cfg.HeartbeatInterval = tt.heartbeat

			c := &fakeCollector{commands: []*models.CommandPollResponse{nil, command(models.CommandStop, "s")}}
			s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}}

			r := newTestRuntime(cfg, c, s, 10)
			runWithTimeout(t, r, context.Background())

			count := func(name string) int {
				n := 0
				for _, got := range c.calls {
					if got == name {
						n++
					}
				}
				return n
			}
			if got := count("poll"); got != tt.wantPolls {
				t.Errorf("polls = %d, want %d (calls %v)", got, tt.wantPolls, c.calls)
			}
			if got := count("heartbeat"); got != tt.wantHeartbeats {
				t.Errorf("heartbeats = %d, want %d (calls %v)", got, tt.wantHeartbeats, c.calls)
			}
			if got := count("push"); got != tt.wantPushes {
				t.Errorf("pushes = %d, want %d (calls %v)", got, tt.wantPushes, c.calls)
			}
		})
	}
}

func TestRuntime_LogsAuthMethod(t *testing.T) {
	var buf bytes.Buffer
	c := &fakeCollector{commands: []*models.CommandPollResponse{command(models.CommandStop, "s")}}
	s := &fakeSource{docs: []*models.MetricsDocument{hostDoc(map[string]string{"h": "idle"})}, strategy: "bearer"}

	r := newTestRuntime(testConfig(), c, s, 3)
	r.logger = zerolog.New(&buf)
	runWithTimeout(t, r, context.Background())

	if !strings.Contains(buf.String(), `"auth_method":"bearer"`) {
		t.Errorf("expected push log to name the BackupPC auth method, got %s", buf.String())
	}
}
