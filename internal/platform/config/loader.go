package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but the file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g. undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	AppURL         *string
	BackendBaseURL *string
	StoreDriver    *string
	StoreDataDir   *string
	LoggingLevel   *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`
	AppURL     string `toml:"app_url"`

	Server       *ServerConfig       `toml:"server"`
	Backend      *BackendConfig      `toml:"backend"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	AuthCache    *AuthCacheConfig    `toml:"auth_cache"`
	Invites      *InvitesConfig      `toml:"invites"`
	Costs        *CostsConfig        `toml:"costs"`
	Store        *StoreConfig        `toml:"store"`
	Email        *EmailConfig        `toml:"email"`
	Logging      *LoggingConfig      `toml:"logging"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate enum fields and URLs
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid
// TOML, Load returns an error (fail fast). Unknown TOML keys produce a
// warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:       string(ModeStrict),
		ListenAddr: ":8600",
		AppURL:     "https://app.example",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
		},
		Backend: BackendConfig{
			BaseURL:          "",
			APIKeyHeader:     "X-Api-Key",
			TimeoutMS:        10000,
			TotalTimeoutMS:   30000,
			AuthRetryDelayMS: 300,
		},
		OutboundHTTP: OutboundHTTPConfig{
			ConnectTimeoutMS: 2000,
			MaxResponseBytes: 1 << 20,
			AllowPrivate:     true,
		},
		AuthCache: AuthCacheConfig{
			TTLMS:      5000,
			MaxEntries: 95,
		},
		Invites: InvitesConfig{
			TTLHours:    48,
			RatePerHour: 10,
		},
		Costs: CostsConfig{
			FiscalYearStartMonth: 1,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".costgate",
		},
		Email: EmailConfig{
			Mode: "log",
		},
		Logging: LoggingConfig{
			Level:          "info",
			AllowSensitive: false,
		},
	}
}

// DevConfig returns development defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.Store.Driver = "memory"
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.AppURL != "" {
		cfg.AppURL = fc.AppURL
	}

	if fc.Server != nil {
		if len(fc.Server.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
	}

	if fc.Backend != nil {
		if fc.Backend.BaseURL != "" {
			cfg.Backend.BaseURL = fc.Backend.BaseURL
		}
		if fc.Backend.APIKeyHeader != "" {
			cfg.Backend.APIKeyHeader = fc.Backend.APIKeyHeader
		}
		if fc.Backend.TimeoutMS != 0 {
			cfg.Backend.TimeoutMS = fc.Backend.TimeoutMS
		}
		if fc.Backend.TotalTimeoutMS != 0 {
			cfg.Backend.TotalTimeoutMS = fc.Backend.TotalTimeoutMS
		}
		if fc.Backend.AuthRetryDelayMS != 0 {
			cfg.Backend.AuthRetryDelayMS = fc.Backend.AuthRetryDelayMS
		}
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.ConnectTimeoutMS != 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
		cfg.OutboundHTTP.AllowPrivate = fc.OutboundHTTP.AllowPrivate
	}

	if fc.AuthCache != nil {
		if fc.AuthCache.TTLMS != 0 {
			cfg.AuthCache.TTLMS = fc.AuthCache.TTLMS
		}
		if fc.AuthCache.MaxEntries != 0 {
			cfg.AuthCache.MaxEntries = fc.AuthCache.MaxEntries
		}
	}

	if fc.Invites != nil {
		if fc.Invites.TTLHours != 0 {
			cfg.Invites.TTLHours = fc.Invites.TTLHours
		}
		if fc.Invites.RatePerHour != 0 {
			cfg.Invites.RatePerHour = fc.Invites.RatePerHour
		}
	}

	if fc.Costs != nil {
		if fc.Costs.FiscalYearStartMonth != 0 {
			cfg.Costs.FiscalYearStartMonth = fc.Costs.FiscalYearStartMonth
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
		if len(fc.Store.Drivers) > 0 {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	if fc.Email != nil {
		if fc.Email.Mode != "" {
			cfg.Email.Mode = fc.Email.Mode
		}
		if fc.Email.Addr != "" {
			cfg.Email.Addr = fc.Email.Addr
		}
		if fc.Email.From != "" {
			cfg.Email.From = fc.Email.From
		}
		if fc.Email.Username != "" {
			cfg.Email.Username = fc.Email.Username
		}
		if fc.Email.Password != "" {
			cfg.Email.Password = fc.Email.Password
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.AppURL != nil && *f.AppURL != "" {
		cfg.AppURL = *f.AppURL
	}
	if f.BackendBaseURL != nil && *f.BackendBaseURL != "" {
		cfg.Backend.BaseURL = *f.BackendBaseURL
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.StoreDataDir != nil && *f.StoreDataDir != "" {
		cfg.Store.DataDir = *f.StoreDataDir
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
}

// validate validates enum-like config fields and URLs, failing fast.
func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite", cfg.Store.Driver)
	}

	switch cfg.Email.Mode {
	case "log", "smtp":
	default:
		return fmt.Errorf("invalid email.mode %q: must be one of log, smtp", cfg.Email.Mode)
	}
	if cfg.Email.Mode == "smtp" && cfg.Email.Addr == "" {
		return fmt.Errorf("email.addr is required when email.mode is smtp")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	if cfg.Costs.FiscalYearStartMonth < 1 || cfg.Costs.FiscalYearStartMonth > 12 {
		return fmt.Errorf("invalid costs.fiscal_year_start_month %d: must be 1-12", cfg.Costs.FiscalYearStartMonth)
	}

	if err := validateOrigin("app_url", cfg.AppURL); err != nil {
		return err
	}
	if cfg.Backend.BaseURL != "" {
		if err := validateOrigin("backend.base_url", cfg.Backend.BaseURL); err != nil {
			return err
		}
	}

	return nil
}

// validateOrigin checks an origin-style URL: absolute, http(s), host, no
// userinfo, query, or fragment. Whitespace is rejected, not trimmed.
func validateOrigin(key, origin string) error {
	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid %s %q: must not contain leading or trailing whitespace", key, origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, origin, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("invalid %s %q: must be an absolute URL with http or https scheme", key, origin)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid %s %q: scheme must be http or https, got %q", key, origin, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: must include a host", key, origin)
	}
	if u.User != nil {
		return fmt.Errorf("invalid %s %q: must not include userinfo", key, origin)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid %s %q: must not include a query string or fragment", key, origin)
	}

	return nil
}
