//go:build windows

package process

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

func killTree(p *os.Process) error {
	return p.Kill()
}
