//go:build windows

package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// PowerShell reading from stdin has no reliable way to echo $LASTEXITCODE
// after each line, so completion falls back to the capture window.
const defaultCompletionMarker = false

func applyShellDefaults(s *ShellConfig) {
	if s.Path == "" {
		s.Path = "powershell.exe"
	}
	base := strings.ToLower(filepath.Base(s.Path))
	if len(s.Args) == 0 && (base == "powershell.exe" || base == "pwsh.exe") {
		s.Args = []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", "-"}
	}
	if s.VersionLabel == "" {
		s.VersionLabel = fmt.Sprintf("%s (%s/%s, unrestricted)", filepath.Base(s.Path), runtime.GOOS, runtime.GOARCH)
	}
}
