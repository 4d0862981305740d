package meshstream

import "github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/app/config"

// Config is the relay's startup configuration.
type Config = config.Config

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
