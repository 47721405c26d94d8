package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/engeditor/session/agent/process"
	"github.com/engeditor/session/auth"
	"github.com/engeditor/session/internal/binpath"
	enet "github.com/engeditor/session/internal/net"
	"github.com/engeditor/session/registry"
	"github.com/engeditor/session/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	CoreBinary = "eng-core"
	UIBinary   = "eng-ui"

	CorePathEnv = "ENG_CORE_PATH"
	UIPathEnv   = "ENG_UI_PATH"

	DefaultDelegationTimeout = 3 * time.Second
)

var (
	// ErrDelegationUnreachable means no running broker accepted the spawn request.
	ErrDelegationUnreachable = errors.New("no running agent reachable")

	errShuttingDown = errors.New("agent is shutting down")
)

// Outcome tells how Run finished. Run returns the zero Outcome when startup fails.
type Outcome int

const (
	// OutcomeDelegated means a running broker launched the front end for us.
	OutcomeDelegated Outcome = iota + 1
	// OutcomeServed means this process ran a session until it terminated.
	OutcomeServed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelegated:
		return "delegated"
	case OutcomeServed:
		return "served"
	default:
		return "failed"
	}
}

// Coordinator is the session broker. It either hands the request to a broker that is already
// running or starts a session of its own: one content server, front ends attached to it through
// the broker's RPC endpoint, and a runtime record other invocations use to find it.
type Coordinator struct {
	logger *zap.SugaredLogger

	registry *registry.Registry
	resolver *binpath.Resolver
	launcher *process.Launcher

	corePath string
	uiPath   string

	daemon            bool
	testMode          bool
	delegationTimeout time.Duration

	// session state below is only touched by the goroutine running Run
	commands   chan spawnRequest
	stopping   chan struct{}
	record     registry.Record
	saved      bool
	core       *process.Handle
	primary    *process.Handle
	frontEnds  []*process.Handle
	server     *rpc.Server
	serverErr  chan error
	serverDone chan struct{}
}

type spawnRequest struct {
	reply chan error
}

type Option func(c *Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.Named("coordinator").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(c *Coordinator) {
		c.logger = c.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(c *Coordinator) {
		c.registry = r
	}
}

func WithResolver(r *binpath.Resolver) Option {
	return func(c *Coordinator) {
		c.resolver = r
	}
}

// WithCorePath skips the lookup of the content server binary.
func WithCorePath(p string) Option {
	return func(c *Coordinator) {
		c.corePath = p
	}
}

// WithUIPath skips the lookup of the front end binary.
func WithUIPath(p string) Option {
	return func(c *Coordinator) {
		c.uiPath = p
	}
}

// WithDaemon keeps the session up after the primary front end exits.
func WithDaemon(b bool) Option {
	return func(c *Coordinator) {
		c.daemon = b
	}
}

// WithTestMode launches front ends with --test-mode.
func WithTestMode(b bool) Option {
	return func(c *Coordinator) {
		c.testMode = b
	}
}

func WithDelegationTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.delegationTimeout = d
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.launcher.HandshakeTimeout = d
	}
}

// New constructs a Coordinator. Run may only be called once.
func New(opts ...Option) (*Coordinator, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Coordinator{
		logger:            logger.Named("coordinator").Sugar(),
		registry:          registry.Default(),
		launcher:          &process.Launcher{HandshakeTimeout: process.DefaultHandshakeTimeout},
		delegationTimeout: DefaultDelegationTimeout,
		commands:          make(chan spawnRequest),
		stopping:          make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.launcher.Log = c.logger.Named("launcher")
	if c.resolver == nil {
		c.resolver = &binpath.Resolver{}
	}
	if c.resolver.Warnf == nil {
		c.resolver.Warnf = c.logger.Warnf
	}
	return c, nil
}

// Run delegates to a running broker if there is one, and otherwise runs a session until the
// server fails, ctx is done, or (outside daemon mode) the primary front end exits.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	err := c.delegate(ctx)
	if err == nil {
		c.logger.Info("delegated to running agent")
		return OutcomeDelegated, nil
	}
	c.logger.Infof("starting new session (test mode: %t, daemon: %t): %s", c.testMode, c.daemon, err)
	if err := c.registry.Clear(); err != nil {
		c.logger.Warnf("cleaning up runtime record: %s", err)
	}

	defer c.shutdown()

	if err := c.originate(ctx); err != nil {
		return 0, err
	}
	if err := c.serve(ctx); err != nil {
		return OutcomeServed, err
	}
	return OutcomeServed, nil
}

func (c *Coordinator) delegate(ctx context.Context) error {
	rec, ok := c.registry.Load()
	if !ok {
		return fmt.Errorf("%w: no runtime record at %s", ErrDelegationUnreachable, c.registry.Path())
	}
	c.logger.Infof("found runtime record (port %d), delegating", rec.Port)

	ctx, cancel := context.WithTimeout(ctx, c.delegationTimeout)
	defer cancel()
	client := rpc.NewClient(c.logger, rec.Port, rec.Token)
	if err := client.SpawnFrontEnd(ctx); err != nil {
		return fmt.Errorf("%w: port %d: %s", ErrDelegationUnreachable, rec.Port, err)
	}
	return nil
}

func (c *Coordinator) originate(ctx context.Context) error {
	corePath, err := c.binary(CoreBinary, CorePathEnv, c.corePath)
	if err != nil {
		return fmt.Errorf("resolving content server: %w", err)
	}
	uiPath, err := c.binary(UIBinary, UIPathEnv, c.uiPath)
	if err != nil {
		return fmt.Errorf("resolving front end: %w", err)
	}
	c.uiPath = uiPath

	coreToken := auth.NewToken()
	core, err := c.launcher.LaunchHandshake(ctx, corePath, nil, coreToken)
	if err != nil {
		return fmt.Errorf("launching content server: %w", err)
	}
	c.core = core
	corePort, _ := core.Port()
	c.logger.Infow("content server launched", "PID", core.PID(), "Port", corePort)

	listener, port, err := enet.ListenLoopback()
	if err != nil {
		return fmt.Errorf("binding agent endpoint: %w", err)
	}
	token := auth.NewToken()
	gate, err := auth.NewGate(token)
	if err != nil {
		listener.Close()
		return fmt.Errorf("building auth gate: %w", err)
	}

	coreClient := rpc.NewClient(c.logger, corePort, coreToken)
	c.server = &rpc.Server{
		Log:       c.logger.Named("rpc"),
		Role:      rpc.RoleAgent,
		Gate:      gate,
		Handshake: &rpc.Relay{Tag: rpc.AgentTag, Open: coreClient.OpenHandshake},
		FrontEnds: &frontEndSpawner{commands: c.commands, stopping: c.stopping},
	}
	c.serverErr = make(chan error, 1)
	c.serverDone = make(chan struct{})
	go func() {
		defer close(c.serverDone)
		c.serverErr <- c.server.Serve(listener)
	}()
	c.logger.Infof("listening on %s", listener.Addr())

	c.record = registry.Record{Port: port, Token: token}
	if err := c.registry.Save(c.record); err != nil {
		return fmt.Errorf("saving runtime record: %w", err)
	}
	c.saved = true

	primary, err := c.launchFrontEnd()
	if err != nil {
		return fmt.Errorf("launching front end: %w", err)
	}
	c.primary = primary
	c.logger.Infow("session active", "Port", port, "PrimaryPID", primary.PID())
	return nil
}

func (c *Coordinator) binary(name, envVar, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return c.resolver.Resolve(name, envVar)
}

func (c *Coordinator) launchFrontEnd() (*process.Handle, error) {
	args := []string{
		"--agent-port", strconv.Itoa(int(c.record.Port)),
		"--agent-token", c.record.Token,
	}
	if c.testMode {
		args = append(args, "--test-mode")
	}
	h, err := c.launcher.LaunchArgs(c.uiPath, args)
	if err != nil {
		return nil, err
	}

	live := c.frontEnds[:0]
	for _, fe := range c.frontEnds {
		if !fe.Exited() {
			live = append(live, fe)
		}
	}
	c.frontEnds = append(live, h)
	return h, nil
}

func (c *Coordinator) serve(ctx context.Context) error {
	var primaryDone <-chan struct{}
	if !c.daemon {
		primaryDone = c.primary.Done()
	}
	for {
		select {
		case err := <-c.serverErr:
			if err != nil {
				return fmt.Errorf("agent endpoint failed: %w", err)
			}
			c.logger.Info("agent endpoint stopped, shutting down")
			return nil
		case <-ctx.Done():
			c.logger.Info("interrupted, shutting down")
			return nil
		case <-primaryDone:
			c.logger.Infof("primary front end exited (%v), shutting down", c.primary.ExitErr())
			return nil
		case <-c.core.Done():
			c.logger.Warnf("content server exited (%v), shutting down", c.core.ExitErr())
			return nil
		case req := <-c.commands:
			c.logger.Info("launching front end for delegated request")
			h, err := c.launchFrontEnd()
			if err == nil {
				c.logger.Debugw("front end launched", "PID", h.PID())
			}
			req.reply <- err
		}
	}
}

func (c *Coordinator) shutdown() {
	close(c.stopping)
	if c.saved {
		if err := c.registry.ClearIf(c.record); err != nil {
			c.logger.Warnf("clearing runtime record: %s", err)
		}
	}
	if c.server != nil {
		if err := c.server.Close(); err != nil {
			c.logger.Debugf("closing agent endpoint: %s", err)
		}
		<-c.serverDone
	}
	for _, h := range c.frontEnds {
		if err := h.Close(); err != nil {
			c.logger.Warnf("closing front end: %s", err)
		}
	}
	if c.core != nil {
		if err := c.core.Close(); err != nil {
			c.logger.Warnf("closing content server: %s", err)
		}
	}
	c.logger.Info("session shut down")
}

// frontEndSpawner hands delegated spawn requests to the goroutine running the session.
type frontEndSpawner struct {
	commands chan<- spawnRequest
	stopping <-chan struct{}
}

func (s *frontEndSpawner) SpawnFrontEnd(ctx context.Context) error {
	req := spawnRequest{reply: make(chan error, 1)}
	select {
	case s.commands <- req:
	case <-s.stopping:
		return errShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
