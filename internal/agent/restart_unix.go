//go:build unix

package agent

import "syscall"

// detachedProcAttr puts the child in its own session so it survives our exit.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
