// Package core runs the headless content server that the broker supervises.
//
// On start the server reads its bearer token from the first line of stdin, binds an ephemeral
// loopback port and writes that port, and nothing else, as one line on stdout. All diagnostics go
// to stderr.
package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/engeditor/session/auth"
	enet "github.com/engeditor/session/internal/net"
	"github.com/engeditor/session/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrNoToken = errors.New("auth token not provided via stdin")

type Server struct {
	logger *zap.SugaredLogger

	stdin  io.Reader
	stdout io.Writer

	rpcServer *rpc.Server
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("core").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithStdio replaces the streams used for the token and port handshake.
func WithStdio(stdin io.Reader, stdout io.Writer) Option {
	return func(s *Server) {
		s.stdin = stdin
		s.stdout = stdout
	}
}

func New(opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger: logger.Named("core").Sugar(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run performs the stdio handshake and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	token, err := readToken(s.stdin)
	if err != nil {
		return err
	}
	gate, err := auth.NewGate(token)
	if err != nil {
		return fmt.Errorf("building auth gate: %w", err)
	}

	listener, port, err := enet.ListenLoopback()
	if err != nil {
		return err
	}

	// the port line must be the first thing on stdout
	if _, err := fmt.Fprintf(s.stdout, "%d\n", port); err != nil {
		listener.Close()
		return fmt.Errorf("announcing port: %w", err)
	}
	s.logger.Infof("core server listening on %s", listener.Addr())

	s.rpcServer = &rpc.Server{
		Log:       s.logger.Named("rpc"),
		Role:      rpc.RoleCore,
		Gate:      gate,
		Handshake: &rpc.Echo{Tag: rpc.CoreTag},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.rpcServer.Serve(listener) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down")
		s.rpcServer.Close()
		return <-errCh
	}
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading auth token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
