// Package frontend is the headless front end. It attaches to a broker, runs the handshake
// exchange and then stays up until it is told to stop, or exits right away in test mode.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/engeditor/session/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrNoAgent = errors.New("agent port and token are required")

const heartbeatInterval = 10 * time.Second

type FrontEnd struct {
	logger *zap.SugaredLogger

	port     uint16
	token    string
	testMode bool

	connectTimeout time.Duration
	messages       []string
}

type Option func(f *FrontEnd)

func WithLogger(l *zap.Logger) Option {
	return func(f *FrontEnd) {
		f.logger = l.Named("frontend").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(f *FrontEnd) {
		f.logger = f.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithTestMode makes Run return as soon as the handshake exchange completes.
func WithTestMode(b bool) Option {
	return func(f *FrontEnd) {
		f.testMode = b
	}
}

// WithConnectTimeout bounds how long Run waits for the broker to answer heartbeats.
func WithConnectTimeout(d time.Duration) Option {
	return func(f *FrontEnd) {
		f.connectTimeout = d
	}
}

func WithMessages(msgs ...string) Option {
	return func(f *FrontEnd) {
		f.messages = msgs
	}
}

func New(port uint16, token string, opts ...Option) (*FrontEnd, error) {
	if port == 0 || token == "" {
		return nil, ErrNoAgent
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	f := &FrontEnd{
		logger:         logger.Named("frontend").Sugar(),
		port:           port,
		token:          token,
		connectTimeout: 10 * time.Second,
		messages:       []string{"Hello from the front end!", "Front end is ready."},
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Run attaches to the broker and performs the handshake exchange. Outside test mode a failed
// exchange is logged and the front end keeps running until ctx is done.
func (f *FrontEnd) Run(ctx context.Context) error {
	client := rpc.NewClient(f.logger, f.port, f.token)

	replies, err := f.handshake(ctx, client)
	if err != nil {
		if f.testMode {
			return err
		}
		f.logger.Errorf("handshake with agent failed: %s", err)
	}
	for _, r := range replies {
		f.logger.Infof("server: %s", r)
	}
	if f.testMode {
		f.logger.Info("test mode, exiting after handshake")
		return nil
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := client.Heartbeat(ctx); err != nil {
			f.logger.Debugf("heartbeat error: %s", err)
		}
	}
}

func (f *FrontEnd) handshake(ctx context.Context, client *rpc.Client) ([]string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, f.connectTimeout)
	defer cancel()
	if err := client.WaitForServer(waitCtx); err != nil {
		return nil, fmt.Errorf("waiting for agent on port %d: %w", f.port, err)
	}
	f.logger.Infof("connected to agent on port %d", f.port)

	replies, err := client.Handshake(ctx, f.messages)
	if err != nil {
		return replies, fmt.Errorf("handshake: %w", err)
	}
	return replies, nil
}
