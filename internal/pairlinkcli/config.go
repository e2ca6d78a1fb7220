// config.go loads the optional .pairlink/config.yaml and resolves effective
// client settings (flags override config, config overrides defaults).
package pairlinkcli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// localConfig holds optional values from .pairlink/config.yaml (flags override).
type localConfig struct {
	Server             string `yaml:"server"`
	Token              string `yaml:"token"`
	TokenFromEnv       string `yaml:"token_from_env,omitempty"`
	DefaultCounterpart string `yaml:"default_counterpart"`
	Raw                *bool  `yaml:"raw"`
}

// resolvedClient is the merged view the commands run against.
type resolvedClient struct {
	baseURL string
	token   string
}

// resolveEffectiveClient merges config values under explicitly passed flag
// values. The token is taken from the flag, then the config, then the
// environment variable named by token_from_env.
func resolveEffectiveClient(cfg localConfig, serverFlag, tokenFlag string) resolvedClient {
	baseURL := strings.TrimSpace(serverFlag)
	if baseURL == "" {
		baseURL = strings.TrimSpace(cfg.Server)
	}
	if baseURL == "" {
		baseURL = defaultServer
	}
	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(cfg.Token)
	}
	if token == "" && cfg.TokenFromEnv != "" {
		token = os.Getenv(strings.TrimSpace(cfg.TokenFromEnv))
	}
	return resolvedClient{baseURL: strings.TrimSuffix(baseURL, "/"), token: token}
}

// loadLocalConfig tries ./.pairlink/config.yaml then ~/.pairlink/config.yaml.
// Returns (config, pathToConfigFile, nil). If neither file exists, returns (empty, "", nil).
func loadLocalConfig() (localConfig, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return localConfig{}, "", err
	}
	try := []string{
		filepath.Join(cwd, ".pairlink", "config.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, ".pairlink", "config.yaml"))
	}
	for _, p := range try {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return localConfig{}, "", err
		}
		var cfg localConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return localConfig{}, "", fmt.Errorf("%s: %w", p, err)
		}
		return cfg, p, nil
	}
	return localConfig{}, "", nil
}
