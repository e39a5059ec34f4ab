package agent

import (
	"fmt"
	"os"
	"os/exec"
)

// SpawnReplacement starts a detached copy of the running executable with the
// same arguments and environment. It does not wait for the child.
func SpawnReplacement() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = os.Environ()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start replacement: %w", err)
	}
	return cmd.Process.Release()
}
