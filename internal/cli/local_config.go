package cli

import (
	"os"

	"github.com/agentsh/shellgate/internal/config"
)

func defaultConfigPath() string {
	if v := os.Getenv("SHELLGATE_CONFIG"); v != "" {
		return v
	}
	for _, p := range []string{"config.yml", "config.yaml", "/etc/shellgate/config.yaml", "/etc/shellgate/config.yml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadLocalConfig loads path, or the first default location that exists. With
// no file anywhere the built-in defaults apply.
func loadLocalConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}
