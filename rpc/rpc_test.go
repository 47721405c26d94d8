package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engeditor/session/auth"
	enet "github.com/engeditor/session/internal/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

type fakeSpawner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSpawner) SpawnFrontEnd(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

// startServer serves s on a fresh loopback port and returns the port.
func startServer(t *testing.T, s *Server) uint16 {
	t.Helper()
	listener, port, err := enet.ListenLoopback()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Serve(listener) }()
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, <-done)
	})
	return port
}

func newGate(t *testing.T, token string) *auth.Gate {
	g, err := auth.NewGate(token)
	require.NoError(t, err)
	return g
}

func startCore(t *testing.T, token string) uint16 {
	return startServer(t, &Server{
		Log:       log.Named("core"),
		Role:      RoleCore,
		Gate:      newGate(t, token),
		Handshake: &Echo{Tag: CoreTag},
	})
}

func TestHandshakeEcho(t *testing.T) {
	ctx := context.Background()
	port := startCore(t, "core-token")
	client := NewClient(log, port, "core-token")
	require.NoError(t, client.WaitForServer(ctx))

	replies, err := client.Handshake(ctx, []string{"Hello", "World", "", "Hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo: Hello", "Echo: World", "Echo: ", "Echo: Hello"}, replies)

	hb, err := client.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleCore, hb.Role)
}

func TestHandshakeOrderingAcrossStreams(t *testing.T) {
	ctx := context.Background()
	port := startCore(t, "core-token")
	client := NewClient(log, port, "core-token")

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < 5; i++ {
		i := i
		group.Go(func() error {
			var msgs, exp []string
			for j := 0; j < 50; j++ {
				msg := fmt.Sprintf("stream %d message %d", i, j)
				msgs = append(msgs, msg)
				exp = append(exp, CoreTag+msg)
			}
			replies, err := client.Handshake(groupCtx, msgs)
			if err != nil {
				return err
			}
			if !assert.Equal(t, exp, replies) {
				return errors.New("out of order")
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
}

func TestHandshakeEarlyClose(t *testing.T) {
	ctx := context.Background()
	port := startCore(t, "core-token")
	client := NewClient(log, port, "core-token")

	stream, err := client.OpenHandshake(ctx)
	require.NoError(t, err)
	reply, err := stream.Exchange(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "Echo: one", reply)
	require.NoError(t, stream.Send(ctx, "never answered"))
	stream.Close()

	// the server keeps serving
	replies, err := client.Handshake(ctx, []string{"two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo: two"}, replies)
}

func TestUnauthenticated(t *testing.T) {
	ctx := context.Background()
	spawner := &fakeSpawner{}
	port := startServer(t, &Server{
		Log:       log.Named("agent"),
		Role:      RoleAgent,
		Gate:      newGate(t, "right"),
		Handshake: &Echo{Tag: AgentTag},
		FrontEnds: spawner,
	})

	for _, token := range []string{"wrong", "", "righ", "Right"} {
		bad := NewClient(log, port, token)
		_, err := bad.Heartbeat(ctx)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		_, err = bad.Handshake(ctx, []string{"x"})
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		err = bad.SpawnFrontEnd(ctx)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		assert.ErrorIs(t, bad.WaitForServer(ctx), auth.ErrUnauthenticated)
	}
	assert.Equal(t, int32(0), spawner.calls.Load())

	good := NewClient(log, port, "right")
	replies, err := good.Handshake(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Agent Proxy: x"}, replies)
	require.NoError(t, good.SpawnFrontEnd(ctx))
	assert.Equal(t, int32(1), spawner.calls.Load())
}

func TestSpawnFrontEnd(t *testing.T) {
	ctx := context.Background()

	failing := &fakeSpawner{err: errors.New("binary missing")}
	port := startServer(t, &Server{
		Log:       log.Named("agent"),
		Role:      RoleAgent,
		Gate:      newGate(t, "tok"),
		Handshake: &Echo{Tag: AgentTag},
		FrontEnds: failing,
	})
	err := NewClient(log, port, "tok", WithRetryMax(3)).SpawnFrontEnd(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary missing")
	// server errors are never retried
	assert.Equal(t, int32(1), failing.calls.Load())

	// the content server has no delegation route
	corePort := startCore(t, "core")
	err = NewClient(log, corePort, "core").SpawnFrontEnd(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSpawnFrontEndUnreachable(t *testing.T) {
	port, err := enet.GetEphemeralTCPPort()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = NewClient(log, uint16(port), "tok").SpawnFrontEnd(ctx)
	require.Error(t, err)
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	corePort := startCore(t, "core-token")
	coreClient := NewClient(log, corePort, "core-token")

	agentPort := startServer(t, &Server{
		Log:  log.Named("agent"),
		Role: RoleAgent,
		Gate: newGate(t, "agent-token"),
		Handshake: &Relay{
			Tag:  AgentTag,
			Open: coreClient.OpenHandshake,
		},
	})
	client := NewClient(log, agentPort, "agent-token")

	replies, err := client.Handshake(ctx, []string{"Hello", "World"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Agent Proxy: Echo: Hello", "Agent Proxy: Echo: World"}, replies)
}

func TestRelayUpstreamRejected(t *testing.T) {
	ctx := context.Background()
	corePort := startCore(t, "core-token")

	agentPort := startServer(t, &Server{
		Log:  log.Named("agent"),
		Role: RoleAgent,
		Gate: newGate(t, "agent-token"),
		Handshake: &Relay{
			Tag:  AgentTag,
			Open: NewClient(log, corePort, "stale-token").OpenHandshake,
		},
	})
	_, err := NewClient(log, agentPort, "agent-token").Handshake(ctx, []string{"Hello"})
	require.Error(t, err)
}
