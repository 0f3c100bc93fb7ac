package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads, applies defaults to, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (write to a temp file, then rename).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// applyDefaults fills in zero-valued optional fields after JSON unmarshal.
// Unmarshalling into a struct that already holds DefaultConfig() values
// means a field is only left at its JSON-unmarshal zero value if the input
// omitted it or explicitly set it to zero, so this only needs to patch
// fields whose default is non-zero and whose sub-struct might have been
// replaced wholesale by the input (e.g. a partial "web": {} object).
func applyDefaults(c *Config) {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Camera.ProbeTimeoutSeconds == 0 {
		c.Camera.ProbeTimeoutSeconds = 10
	}
	if c.Camera.RequestTimeoutSeconds == 0 {
		c.Camera.RequestTimeoutSeconds = 15
	}

	if c.Web == nil {
		c.Web = &Web{Enabled: true, Port: 8080}
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}

	if c.SNTP == nil {
		c.SNTP = &SNTP{}
	}
	if c.SNTP.Enabled && len(c.SNTP.Servers) == 0 {
		c.SNTP.Servers = []string{"pool.ntp.org"}
	}
	if c.SNTP.CheckIntervalSeconds == 0 {
		c.SNTP.CheckIntervalSeconds = 300
	}
	if c.SNTP.TimeoutSeconds == 0 {
		c.SNTP.TimeoutSeconds = 5
	}

	if c.Archive == nil {
		c.Archive = &Archive{Port: 22, TimeoutConnectSeconds: 30}
	}
	if c.Archive.Port == 0 {
		c.Archive.Port = 22
	}
	if c.Archive.TimeoutConnectSeconds == 0 {
		c.Archive.TimeoutConnectSeconds = 30
	}
}
