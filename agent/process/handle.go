package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const reapTimeout = 10 * time.Second

// Handle is exclusive ownership of a spawned child process.
type Handle struct {
	log  *zap.SugaredLogger
	cmd  *exec.Cmd
	port uint16

	done    chan struct{}
	exitErr error

	closeOnce sync.Once
	closeErr  error
}

func newHandle(log *zap.SugaredLogger, cmd *exec.Cmd) *Handle {
	h := &Handle{
		log:  log,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		h.exitErr = cmd.Wait()
		h.log.Debugw("child exited", "PID", cmd.Process.Pid, "Error", h.exitErr)
		close(h.done)
	}()
	return h
}

func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Port returns the port the child announced during a handshake spawn.
func (h *Handle) Port() (uint16, bool) { return h.port, h.port != 0 }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr is the result of waiting on the child. Only meaningful after Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close kills the child's process group if it is still running and waits for it to be reaped.
// It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.Exited() {
			return
		}
		h.log.Debugw("killing child", "PID", h.PID())
		if err := killTree(h.cmd.Process); err != nil {
			h.log.Debugf("error killing child %d: %s", h.PID(), err)
		}
		select {
		case <-h.done:
		case <-time.After(reapTimeout):
			h.closeErr = fmt.Errorf("child %d not reaped after %s", h.PID(), reapTimeout)
		}
	})
	return h.closeErr
}
