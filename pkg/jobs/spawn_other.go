//go:build !unix

package jobs

import "os/exec"

func detach(cmd *exec.Cmd) {}
