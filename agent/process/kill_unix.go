//go:build unix

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// killTree kills the child's whole process group, falling back to the child alone.
func killTree(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
