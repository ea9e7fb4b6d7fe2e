package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the server settings. The unix socket is always served; the
// TCP listener starts only when a port and auth token are both set.
type Config struct {
	// TCPPort enables the authenticated TCP listener when non-empty.
	TCPPort string `yaml:"tcp_port,omitempty"`

	// AuthToken guards TCP connections. Keep it out of this file and in
	// the system keyring where possible; this field is the fallback.
	AuthToken string `yaml:"auth_token,omitempty"`

	// MaxSubscribers caps concurrent watch connections. Zero means
	// unlimited.
	MaxSubscribers int `yaml:"max_subscribers,omitempty"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.TCPPort = strings.TrimSpace(cfg.TCPPort)
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	return cfg, nil
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureConfigExists writes a default config file if none is present.
func EnsureConfigExists() error {
	configFile, err := GetConfigFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := `# pulse server configuration
#
# tcp_port: "7430"        # uncomment to accept remote clients
# auth_token: ""          # required for the TCP listener
# max_subscribers: 0      # 0 = unlimited watch connections
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0600); err != nil {
			return err
		}
	}
	return nil
}
