package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a loaded configuration for internal consistency. It
// returns the first problem found; callers fix and reload rather than
// accumulate a list, matching the teacher's fail-fast config validation.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Camera.BaseURL) == "" {
		return fmt.Errorf("camera.base_url is required")
	}
	u, err := url.Parse(c.Camera.BaseURL)
	if err != nil {
		return fmt.Errorf("camera.base_url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("camera.base_url must use https")
	}
	if strings.HasSuffix(u.Path, "/") {
		return fmt.Errorf("camera.base_url must not include a trailing slash")
	}

	if c.Web != nil && c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	if c.SNTP != nil && c.SNTP.Enabled && len(c.SNTP.Servers) == 0 {
		return fmt.Errorf("sntp.servers must be non-empty when sntp.enabled is true")
	}

	if c.Archive != nil && c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive.host is required when archive.enabled is true")
		}
		if c.Archive.Username == "" {
			return fmt.Errorf("archive.username is required when archive.enabled is true")
		}
	}

	return nil
}
