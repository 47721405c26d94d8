package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultHandshakeTimeout = 10 * time.Second

type Launcher struct {
	Log *zap.SugaredLogger
	// HandshakeTimeout bounds how long a handshake-spawned child has to print its port.
	HandshakeTimeout time.Duration
}

func (l *Launcher) log() *zap.SugaredLogger {
	if l.Log == nil {
		return zap.NewNop().Sugar()
	}
	return l.Log
}

func (l *Launcher) handshakeTimeout() time.Duration {
	if l.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return l.HandshakeTimeout
}

type lineResult struct {
	line string
	err  error
}

// LaunchHandshake starts path with piped stdin and stdout, sends token on stdin, and waits for
// the child to print the port it is listening on.
func (l *Launcher) LaunchHandshake(ctx context.Context, path string, args []string, token string) (*Handle, error) {
	log := l.log()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("creating stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("creating stdout pipe: %w", err)}
	}

	cmd := exec.Command(path, args...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr
	configureSysProcAttr(cmd)

	err = cmd.Start()
	// the child holds its own copies now
	stdinR.Close()
	stdoutW.Close()
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		return nil, &LaunchError{Path: path, Err: err}
	}
	log.Debugw("started child for handshake", "Path", path, "PID", cmd.Process.Pid)

	h := newHandle(log, cmd)
	fail := func(line, reason string) error {
		h.Close()
		stdoutR.Close()
		return &HandshakeError{Path: path, PID: cmd.Process.Pid, Line: line, Reason: reason}
	}

	_, err = io.WriteString(stdinW, token+"\n")
	stdinW.Close()
	if err != nil {
		return nil, fail("", fmt.Sprintf("writing token: %s", err))
	}

	reader := bufio.NewReader(stdoutR)
	lineCh := make(chan lineResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		lineCh <- lineResult{line: line, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout())
	defer cancel()

	var res lineResult
	select {
	case res = <-lineCh:
	case <-ctx.Done():
		return nil, fail("", fmt.Sprintf("waiting for port: %s", ctx.Err()))
	}

	if res.err != nil && !errors.Is(res.err, io.EOF) {
		return nil, fail(res.line, fmt.Sprintf("reading port: %s", res.err))
	}
	if res.line == "" {
		return nil, fail("", "child closed stdout without announcing a port")
	}
	port, err := strconv.ParseUint(strings.TrimSpace(res.line), 10, 16)
	if err != nil {
		return nil, fail(res.line, fmt.Sprintf("parsing port %q: %s", strings.TrimSpace(res.line), err))
	}
	if port == 0 {
		return nil, fail(res.line, "child announced port 0")
	}

	h.port = uint16(port)
	log.Debugw("child announced port", "PID", cmd.Process.Pid, "Port", port)

	go drainStdout(log, cmd.Process.Pid, reader, stdoutR)

	return h, nil
}

// drainStdout keeps the child from blocking on a full pipe if it writes more to stdout.
func drainStdout(log *zap.SugaredLogger, pid int, reader *bufio.Reader, f *os.File) {
	defer f.Close()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		log.Debugw("unexpected stdout from child", "PID", pid, "Line", scanner.Text())
	}
}

// LaunchArgs starts path with args, stdout and stderr inherited. No handshake is performed.
func (l *Launcher) LaunchArgs(path string, args []string) (*Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}
	l.log().Debugw("started child", "Path", path, "PID", cmd.Process.Pid)
	return newHandle(l.log(), cmd), nil
}
