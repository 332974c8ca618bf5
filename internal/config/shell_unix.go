//go:build !windows

package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

const defaultCompletionMarker = true

func applyShellDefaults(s *ShellConfig) {
	if s.Path == "" {
		if p, err := exec.LookPath("bash"); err == nil {
			s.Path = p
		} else {
			s.Path = "/bin/sh"
		}
	}
	if len(s.Args) == 0 && filepath.Base(s.Path) == "bash" {
		// Skip profile and rc files; bash reads commands from stdin when it is a pipe.
		s.Args = []string{"--noprofile", "--norc"}
	}
	if s.VersionLabel == "" {
		s.VersionLabel = fmt.Sprintf("%s (%s/%s, unrestricted)", filepath.Base(s.Path), runtime.GOOS, runtime.GOARCH)
	}
}
