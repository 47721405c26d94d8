package core

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/engeditor/session/auth"
	"github.com/engeditor/session/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdoutR, stdoutW := io.Pipe()
	s, err := New(WithLogger(zap.NewNop()), WithStdio(strings.NewReader("core-token\n"), stdoutW))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	line, err := bufio.NewReader(stdoutR).ReadString('\n')
	require.NoError(t, err)
	port, err := strconv.ParseUint(strings.TrimSpace(line), 10, 16)
	require.NoError(t, err)
	require.NotZero(t, port)

	client := rpc.NewClient(zap.NewNop().Sugar(), uint16(port), "core-token")
	replies, err := client.Handshake(ctx, []string{"Hello", "World"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo: Hello", "Echo: World"}, replies)

	_, err = rpc.NewClient(zap.NewNop().Sugar(), uint16(port), "other").Handshake(ctx, []string{"Hello"})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("core server did not stop")
	}
}

func TestRunRequiresToken(t *testing.T) {
	for _, stdin := range []string{"", "\n", "   \n"} {
		var stdout strings.Builder
		s, err := New(WithLogger(zap.NewNop()), WithStdio(strings.NewReader(stdin), &stdout))
		require.NoError(t, err)
		err = s.Run(context.Background())
		assert.ErrorIs(t, err, ErrNoToken)
		assert.Empty(t, stdout.String(), "nothing may be written to stdout without a token")
	}
}

func TestRunRejectsInvalidToken(t *testing.T) {
	var stdout strings.Builder
	s, err := New(WithLogger(zap.NewNop()), WithStdio(strings.NewReader("bad\x00token\n"), &stdout))
	require.NoError(t, err)
	err = s.Run(context.Background())
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Empty(t, stdout.String())
}
