//go:build !unix

package agent

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
