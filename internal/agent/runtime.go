package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/backuppc"
	"github.com/MacJediWizard/bpcmon/internal/config"
	"github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/rs/zerolog"
)

// Call timeouts not covered by the collector client.
const (
	RegisterTimeout = 30 * time.Second
	ConfigTimeout   = 30 * time.Second

	// FetchCycleTimeout allows one full attempt per authentication strategy.
	FetchCycleTimeout = 5 * backuppc.FetchTimeout
)

// State is a phase of the agent lifecycle.
type State int32

const (
	StateInitializing State = iota
	StateRegistering
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRegistering:
		return "registering"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MetricsSource produces metrics documents.
type MetricsSource interface {
	FetchMetrics(ctx context.Context) (*models.MetricsDocument, error)
	Reconfigure(baseURL string, creds backuppc.Credentials)
	// LastStrategy names the authentication method of the last successful fetch.
	LastStrategy() string
}

// CollectorAPI is the subset of the collector API the runtime drives.
type CollectorAPI interface {
	Register(ctx context.Context, version, hostname string, osInfo *models.OSInfo) (*models.RegisterResponse, error)
	FetchConfig(ctx context.Context) (*models.SiteConfigResponse, error)
	Push(ctx context.Context, push models.DataPushRequest) (*models.DataPushResponse, error)
	Heartbeat(ctx context.Context, now time.Time) error
	PollCommand(ctx context.Context) (*models.CommandPollResponse, error)
	Ack(ctx context.Context, commandID string) error
}

// Identity describes the agent in its registration.
type Identity struct {
	Version  string
	Hostname string
	OSInfo   *models.OSInfo
}

// Runtime is the agent's single-threaded polling loop.
type Runtime struct {
	cfg       config.AgentConfig
	identity  Identity
	collector CollectorAPI
	source    MetricsSource
	snapshot  *Snapshot
	logger    zerolog.Logger
	state     atomic.Int32

	// OnRestart spawns the replacement process. It runs after the restart
	// command is acknowledged.
	OnRestart func() error

	newTicker func(d time.Duration) (<-chan time.Time, func())
	now       func() time.Time
}

// NewRuntime creates a runtime in the Initializing state. cfg is copied.
func NewRuntime(cfg *config.AgentConfig, identity Identity, collector CollectorAPI, source MetricsSource, logger zerolog.Logger) *Runtime {
	r := &Runtime{
		cfg:       *cfg,
		identity:  identity,
		collector: collector,
		source:    source,
		snapshot:  NewSnapshot(),
		logger:    logger.With().Str("component", "runtime").Logger(),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		now: time.Now,
	}
	r.state.Store(int32(StateInitializing))
	return r
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Config returns the effective configuration, including collector overrides.
func (r *Runtime) Config() config.AgentConfig {
	return r.cfg
}

func (r *Runtime) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("state transition")
	}
}

// drain moves a running agent to Draining. Stopped is never left.
func (r *Runtime) drain() {
	r.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// Run registers, then polls until ctx is cancelled or a stop or restart command
// arrives. Cancellation is only observed between calls; a call in flight runs to
// completion under its own timeout.
func (r *Runtime) Run(ctx context.Context) error {
	if r.State() != StateInitializing {
		return errors.New("runtime already started")
	}

	r.setState(StateRegistering)
	r.register(ctx)

	r.setState(StateRunning)
	r.logger.Info().
		Int64("site_id", r.cfg.SiteID).
		Int("polling_interval", r.cfg.PollingInterval).
		Int("command_poll_every", r.cfg.CommandPollEvery()).
		Int("heartbeat_every", r.cfg.HeartbeatEvery()).
		Msg("agent running")

	if ctx.Err() == nil {
		r.fetchAndSend(ctx)
	}

	ticks, stop := r.newTicker(r.cfg.PollingDuration())
	defer stop()

	for tick := 1; r.State() == StateRunning; tick++ {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown requested")
			r.drain()
		case <-ticks:
			r.runTick(ctx, tick)
		}
	}

	r.setState(StateStopped)
	r.logger.Info().Msg("agent stopped")
	return nil
}

// runTick performs the command poll, the data cycle and the heartbeat due on
// this tick, in that order.
func (r *Runtime) runTick(ctx context.Context, tick int) {
	if tick%r.cfg.CommandPollEvery() == 0 {
		r.pollCommands(ctx)
		if !r.continueTick(ctx) {
			return
		}
	}

	r.fetchAndSend(ctx)
	if !r.continueTick(ctx) {
		return
	}

	if tick%r.cfg.HeartbeatEvery() == 0 {
		r.sendHeartbeat(ctx)
	}
}

func (r *Runtime) continueTick(ctx context.Context) bool {
	if ctx.Err() != nil {
		r.drain()
	}
	return r.State() == StateRunning
}

// call derives a context for one network call that outlives shutdown signals.
func call(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (r *Runtime) register(ctx context.Context) {
	rctx, cancel := call(ctx, RegisterTimeout)
	resp, err := r.collector.Register(rctx, r.identity.Version, r.identity.Hostname, r.identity.OSInfo)
	cancel()
	if err != nil || !resp.Success {
		r.logPushError(err, "failed to register with dashboard, continuing anyway")
	} else {
		r.logger.Info().Str("site_name", resp.SiteName).Str("ws_channel", resp.WSChannel).Msg("agent registered")
	}

	if ctx.Err() != nil {
		return
	}

	cctx, cancel := call(ctx, ConfigTimeout)
	siteCfg, err := r.collector.FetchConfig(cctx)
	cancel()
	if err != nil {
		r.logPushError(err, "failed to fetch site configuration")
		return
	}
	r.applySiteConfig(siteCfg)
}

// applySiteConfig takes the collector's polling interval and any non-empty
// BackupPC settings, then reconfigures the metrics source.
func (r *Runtime) applySiteConfig(sc *models.SiteConfigResponse) {
	if sc == nil || sc.PollingInterval <= 0 {
		return
	}
	r.cfg.PollingInterval = sc.PollingInterval
	r.logger.Info().Int("polling_interval", sc.PollingInterval).Msg("using polling interval from dashboard")

	if sc.BackupPCURL != "" {
		r.cfg.BackupPCURL = sc.BackupPCURL
	}
	if sc.BackupPCUsername != "" {
		r.cfg.BackupPCUsername = sc.BackupPCUsername
	}
	if sc.BackupPCPassword != "" {
		r.cfg.BackupPCPassword = sc.BackupPCPassword
	}
	if sc.APIKey != "" {
		r.cfg.APIKey = sc.APIKey
	}

	r.source.Reconfigure(r.cfg.BackupPCURL, CredentialsFrom(&r.cfg))
}

// CredentialsFrom extracts the BackupPC credentials of cfg.
func CredentialsFrom(cfg *config.AgentConfig) backuppc.Credentials {
	return backuppc.Credentials{
		Username: cfg.BackupPCUsername,
		Password: cfg.BackupPCPassword,
		APIKey:   cfg.APIKey,
	}
}

// fetchAndSend runs one data cycle. The snapshot is updated after every
// successful fetch, whether or not the push then succeeds.
func (r *Runtime) fetchAndSend(ctx context.Context) {
	fctx, cancel := call(ctx, FetchCycleTimeout)
	doc, err := r.source.FetchMetrics(fctx)
	cancel()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to fetch metrics from BackupPC")
		return
	}

	changes := r.snapshot.Diff(doc)
	r.snapshot.Replace(doc)
	for _, ch := range changes {
		r.logger.Info().Str("host", ch.Host).Str("old_status", *ch.OldStatus).Str("new_status", ch.NewStatus).Msg("status change detected")
	}

	push := Classify(doc, changes)

	pctx, cancel := call(ctx, PushTimeout)
	_, err = r.collector.Push(pctx, push)
	cancel()
	if err != nil {
		r.logPushError(err, "failed to send data to dashboard")
		return
	}
	r.logger.Info().
		Str("event_type", string(push.EventType)).
		Int("hosts", len(doc.Hosts)).
		Str("auth_method", r.source.LastStrategy()).
		Msg("data sent to dashboard")
}

func (r *Runtime) sendHeartbeat(ctx context.Context) {
	hctx, cancel := call(ctx, PushTimeout)
	err := r.collector.Heartbeat(hctx, r.now())
	cancel()
	if err != nil {
		r.logPushError(err, "failed to send heartbeat")
		return
	}
	r.logger.Debug().Msg("heartbeat sent")
}

func (r *Runtime) pollCommands(ctx context.Context) {
	pctx, cancel := call(ctx, CommandPollTimeout)
	cmd, err := r.collector.PollCommand(pctx)
	cancel()
	if err != nil {
		r.logPushError(err, "failed to poll for commands")
		return
	}
	if cmd == nil {
		return
	}
	r.handleCommand(ctx, cmd)
}

// handleCommand executes a delivered command synchronously. Acknowledgements
// always report success; unknown kinds are logged and never acknowledged.
func (r *Runtime) handleCommand(ctx context.Context, cmd *models.CommandPollResponse) {
	kind := *cmd.Command
	log := r.logger.With().Str("command", string(kind)).Str("command_id", cmd.CommandID).Logger()
	log.Info().Msg("received command")

	switch kind {
	case models.CommandRefresh:
		r.fetchAndSend(ctx)
		r.ack(ctx, cmd.CommandID)
	case models.CommandStatus:
		r.sendHeartbeat(ctx)
		r.ack(ctx, cmd.CommandID)
	case models.CommandRestart:
		r.ack(ctx, cmd.CommandID)
		if r.OnRestart == nil {
			log.Warn().Msg("restart not supported, stopping instead")
		} else if err := r.OnRestart(); err != nil {
			log.Error().Err(err).Msg("failed to spawn replacement process")
		}
		r.drain()
	case models.CommandStop:
		r.ack(ctx, cmd.CommandID)
		r.drain()
	default:
		log.Warn().Err(ErrUnknownCommand).Msg("ignoring command")
	}
}

func (r *Runtime) ack(ctx context.Context, id string) {
	actx, cancel := call(ctx, AckTimeout)
	err := r.collector.Ack(actx, id)
	cancel()
	if err != nil {
		r.logPushError(err, "failed to acknowledge command")
	}
}

func (r *Runtime) logPushError(err error, msg string) {
	if errors.Is(err, ErrUnauthorized) {
		r.logger.Error().Err(err).Msg(msg + ": authentication failed - check agent token")
		return
	}
	r.logger.Warn().Err(err).Msg(msg)
}
