// Package config loads and validates the on-disk configuration for camctl.
package config

// Config is the root configuration structure persisted as JSON.
type Config struct {
	Version  int    `json:"version"` // config schema version, current: 1
	Timezone string `json:"timezone,omitempty"`

	Camera  Camera   `json:"camera"`
	Web     *Web     `json:"web,omitempty"`
	SNTP    *SNTP    `json:"sntp,omitempty"`
	Archive *Archive `json:"archive,omitempty"`
}

// Camera describes the tethered vendor device the coordinator talks to.
type Camera struct {
	BaseURL string `json:"base_url"` // e.g. "https://192.168.1.1:443"
	Auth    *Auth  `json:"auth,omitempty"`

	ProbeTimeoutSeconds   int `json:"probe_timeout_seconds,omitempty"`   // default 10
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"` // default 15
}

// Auth configures HTTP digest authentication against the camera, used only
// when the firmware build requires it. Most field deployments run with the
// camera's auth disabled (isolated network), per spec.md's Non-goals.
type Auth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Web configures the out-of-scope HTTP/WebSocket transport's bind address.
// camctl's core doesn't use this directly; it's carried so the config file
// remains the single source of truth for the whole process.
type Web struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port,omitempty"` // default 8080
	Password string `json:"password,omitempty"`
}

// SNTP configures the diagnostic NTP offset sampler (internal/diag).
type SNTP struct {
	Enabled              bool     `json:"enabled"`
	Servers              []string `json:"servers,omitempty"`
	CheckIntervalSeconds int      `json:"check_interval_seconds,omitempty"` // default 300
	TimeoutSeconds       int      `json:"timeout_seconds,omitempty"`        // default 5
}

// Archive configures the optional off-device report mirror (internal/archiver).
type Archive struct {
	Enabled               bool   `json:"enabled"`
	Host                  string `json:"host,omitempty"`
	Port                  int    `json:"port,omitempty"` // default 22
	Username              string `json:"username,omitempty"`
	Password              string `json:"password,omitempty"`
	RemotePath            string `json:"remote_path,omitempty"`             // base directory on the remote
	TimeoutConnectSeconds int    `json:"timeout_connect_seconds,omitempty"` // default 30
}

// DefaultConfig returns a Config with every optional section populated from
// its documented default, for use when no config file exists yet.
func DefaultConfig() Config {
	return Config{
		Version:  1,
		Timezone: "UTC",
		Camera: Camera{
			ProbeTimeoutSeconds:   10,
			RequestTimeoutSeconds: 15,
		},
		Web: &Web{
			Enabled: true,
			Port:    8080,
		},
		SNTP: &SNTP{
			Enabled:              true,
			Servers:              []string{"pool.ntp.org"},
			CheckIntervalSeconds: 300,
			TimeoutSeconds:       5,
		},
		Archive: &Archive{
			Enabled:               false,
			Port:                  22,
			TimeoutConnectSeconds: 30,
		},
	}
}
