package onboarding

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pulse/config"
)

// Preferences records that setup ran to completion. Kept separate from
// the server config so wiping one does not wipe the other.
type Preferences struct {
	SetupComplete bool `yaml:"setup_complete"`
}

// IsFirstRun reports whether setup has never completed. Any read error
// counts as a first run; the wizard is idempotent.
func IsFirstRun() bool {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return true
	}

	data, err := os.ReadFile(filepath.Join(configDir, "preferences.yaml"))
	if err != nil {
		return true
	}

	var prefs Preferences
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return true
	}
	return !prefs.SetupComplete
}

func savePreferences(prefs Preferences) error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "preferences.yaml"), data, 0644)
}
