// Package config provides configuration loading and validation.
package config

// Config is the effective runtime configuration.
type Config struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`

	// AppURL is the dashboard origin used to build invite links.
	AppURL string `toml:"app_url"`

	Server       ServerConfig       `toml:"server"`
	Backend      BackendConfig      `toml:"backend"`
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`
	AuthCache    AuthCacheConfig    `toml:"auth_cache"`
	Invites      InvitesConfig      `toml:"invites"`
	Costs        CostsConfig        `toml:"costs"`
	Store        StoreConfig        `toml:"store"`
	Email        EmailConfig        `toml:"email"`
	Logging      LoggingConfig      `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	TrustedProxies []string `toml:"trusted_proxies"`
}

// BackendConfig describes the analytics cost service this gateway proxies to.
type BackendConfig struct {
	// BaseURL is the cost service origin, e.g. https://costs.internal:8443.
	BaseURL string `toml:"base_url"`

	// APIKeyHeader is the request header carrying the per-org credential.
	APIKeyHeader string `toml:"api_key_header"`

	// TimeoutMS bounds a standard query call.
	TimeoutMS int `toml:"timeout_ms"`

	// TotalTimeoutMS bounds the combined-totals endpoint, which fans out
	// three sub-queries backend-side and needs more headroom.
	TotalTimeoutMS int `toml:"total_timeout_ms"`

	// AuthRetryDelayMS is the pause between a 401/403 and the single retry,
	// allowing an eventually-consistent credential store to catch up.
	AuthRetryDelayMS int `toml:"auth_retry_delay_ms"`
}

// OutboundHTTPConfig holds outbound client settings.
type OutboundHTTPConfig struct {
	ConnectTimeoutMS int   `toml:"connect_timeout_ms"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
	AllowPrivate     bool  `toml:"allow_private"`
}

// AuthCacheConfig holds auth-context cache settings.
type AuthCacheConfig struct {
	// TTLMS is how long a resolved (user, org) context stays valid. Short on
	// purpose: it only needs to cover one page's burst of parallel requests.
	TTLMS int `toml:"ttl_ms"`

	// MaxEntries triggers an eviction sweep of expired entries before insert.
	MaxEntries int `toml:"max_entries"`
}

// InvitesConfig holds invitation workflow settings.
type InvitesConfig struct {
	// TTLHours is how long an invite stays acceptable.
	TTLHours int `toml:"ttl_hours"`

	// RatePerHour caps invites per (user, org) pair in a rolling hour.
	RatePerHour int64 `toml:"rate_per_hour"`
}

// CostsConfig holds cost-query settings.
type CostsConfig struct {
	// FiscalYearStartMonth is 1-12; 1 means the fiscal year tracks the
	// calendar year.
	FiscalYearStartMonth int `toml:"fiscal_year_start_month"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver  string         `toml:"driver"`
	DataDir string         `toml:"data_dir"`
	Drivers map[string]any `toml:"drivers"`
}

// EmailConfig holds invite mail delivery settings.
type EmailConfig struct {
	// Mode is "log" (no delivery, invite links surface in the response) or "smtp".
	Mode     string `toml:"mode"`
	Addr     string `toml:"addr"`
	From     string `toml:"from"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `toml:"level"`
	AllowSensitive bool   `toml:"allow_sensitive"`
}

// Redacted returns a copy of the config safe for logging.
func (c *Config) Redacted() Config {
	out := *c
	if out.Email.Password != "" {
		out.Email.Password = "[REDACTED]"
	}
	return out
}
