// Package config defines the top-level configuration for the pairbot
// process and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAIRBOT_* environment
// variables. Trading parameters that can change at runtime live in
// TradingParams and arrive from the authorization server, not from here.
type Config struct {
	VenueA        VenueConfig     `toml:"venue_a"`
	VenueB        VenueConfig     `toml:"venue_b"`
	Authorization AuthConfig      `toml:"authorization"`
	Monitor       MonitorConfig   `toml:"monitor"`
	Execution     ExecutionConfig `toml:"execution"`
	Telemetry     TelemetryConfig `toml:"telemetry"`
	Journal       JournalConfig   `toml:"journal"`
	Notify        NotifyConfig    `toml:"notify"`
	LogLevel      string          `toml:"log_level"`
}

// VenueConfig holds connection parameters for a single trading venue.
type VenueConfig struct {
	Name      string   `toml:"name"`
	BaseURL   string   `toml:"base_url"`
	ApiToken  string   `toml:"api_token"`
	Mode      string   `toml:"mode"` // "leveraged" or "linear"
	RateLimit float64  `toml:"rate_limit"` // requests per second
	RateBurst int      `toml:"rate_burst"`
	Timeout   duration `toml:"timeout"`
}

// AuthConfig holds the authorization server connection parameters for the
// trading process.
type AuthConfig struct {
	BaseURL     string   `toml:"base_url"`
	Token       string   `toml:"token"`
	MaxFailures int      `toml:"max_failures"`
	ExitGrace   duration `toml:"exit_grace"`
	HTTPTimeout duration `toml:"http_timeout"`
}

// MonitorConfig holds gap monitor parameters.
type MonitorConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	ProbeQuantity float64  `toml:"probe_quantity"`
	RetryDelay    duration `toml:"retry_delay"`
}

// ExecutionConfig holds coordinator timing parameters. Thresholds and
// sizing inputs come from TradingParams.
type ExecutionConfig struct {
	ExitGrace       duration `toml:"exit_grace"`       // no exit evaluation after entry
	ReconcileGrace  duration `toml:"reconcile_grace"`  // trust in-memory leg state after entry
	ConfirmTimeout  duration `toml:"confirm_timeout"`  // pending-open confirmation poll window
	ConfirmInterval duration `toml:"confirm_interval"` // pending-open poll spacing
	SettleDelay     duration `toml:"settle_delay"`     // wait before reading final balances
	LotTick         float64  `toml:"lot_tick"`
	BalanceRefresh  duration `toml:"balance_refresh"`
}

// TelemetryConfig holds Redis publisher parameters.
type TelemetryConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// JournalConfig holds the optional append-only trade journal parameters.
type JournalConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the authorization server's own settings (authd).
type ServerConfig struct {
	Port          int      `toml:"port"`
	AdminToken    string   `toml:"admin_token"`
	VerifyWindow  duration `toml:"verify_window"`
	PurgeWindow   duration `toml:"purge_window"`
	SweepInterval duration `toml:"sweep_interval"`
	LogLevel      string   `toml:"log_level"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "200ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// Timing defaults mirror the behavior the coordinator was tuned against.
func Defaults() Config {
	return Config{
		VenueA: VenueConfig{
			Name:      "venue_a",
			Mode:      "leveraged",
			RateLimit: 10,
			RateBurst: 5,
			Timeout:   duration{10 * time.Second},
		},
		VenueB: VenueConfig{
			Name:      "venue_b",
			Mode:      "linear",
			RateLimit: 10,
			RateBurst: 5,
			Timeout:   duration{10 * time.Second},
		},
		Authorization: AuthConfig{
			MaxFailures: 3,
			ExitGrace:   duration{2 * time.Second},
			HTTPTimeout: duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:  duration{200 * time.Millisecond},
			ProbeQuantity: 1.0,
			RetryDelay:    duration{time.Second},
		},
		Execution: ExecutionConfig{
			ExitGrace:       duration{15 * time.Second},
			ReconcileGrace:  duration{20 * time.Second},
			ConfirmTimeout:  duration{15 * time.Second},
			ConfirmInterval: duration{time.Second},
			SettleDelay:     duration{2 * time.Second},
			LotTick:         1e-6,
			BalanceRefresh:  duration{30 * time.Second},
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Journal: JournalConfig{
			Enabled:      false,
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit", "orphan", "fatal"},
		},
		LogLevel: "info",
	}
}

// ServerDefaults returns the default authd server configuration.
func ServerDefaults() ServerConfig {
	return ServerConfig{
		Port:          8090,
		VerifyWindow:  duration{5 * time.Minute},
		PurgeWindow:   duration{10 * time.Minute},
		SweepInterval: duration{5 * time.Minute},
		LogLevel:      "info",
	}
}

// validLogLevels enumerates the accepted values for log_level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validVenueModes enumerates the accepted values for VenueConfig.Mode.
var validVenueModes = map[string]bool{
	"leveraged": true,
	"linear":    true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	for _, v := range []struct {
		name string
		cfg  VenueConfig
	}{{"venue_a", c.VenueA}, {"venue_b", c.VenueB}} {
		if v.cfg.BaseURL == "" {
			errs = append(errs, v.name+": base_url must not be empty")
		}
		if !validVenueModes[strings.ToLower(v.cfg.Mode)] {
			errs = append(errs, fmt.Sprintf("%s: mode must be leveraged or linear, got %q", v.name, v.cfg.Mode))
		}
		if v.cfg.RateLimit <= 0 {
			errs = append(errs, v.name+": rate_limit must be > 0")
		}
		if v.cfg.RateBurst < 1 {
			errs = append(errs, v.name+": rate_burst must be >= 1")
		}
	}
	if c.VenueA.Name != "" && c.VenueA.Name == c.VenueB.Name {
		errs = append(errs, "venue_a and venue_b must have distinct names")
	}

	if c.Authorization.BaseURL == "" {
		errs = append(errs, "authorization: base_url must not be empty")
	}
	if c.Authorization.Token == "" {
		errs = append(errs, "authorization: token must not be empty")
	}
	if c.Authorization.MaxFailures < 1 {
		errs = append(errs, "authorization: max_failures must be >= 1")
	}

	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.ProbeQuantity <= 0 {
		errs = append(errs, "monitor: probe_quantity must be > 0")
	}

	if c.Execution.LotTick <= 0 {
		errs = append(errs, "execution: lot_tick must be > 0")
	}
	if c.Execution.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "execution: confirm_timeout must be > 0")
	}
	if c.Execution.ConfirmInterval.Duration <= 0 {
		errs = append(errs, "execution: confirm_interval must be > 0")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Addr == "" {
			errs = append(errs, "telemetry: addr must not be empty when enabled")
		}
		if c.Telemetry.PoolSize < 1 {
			errs = append(errs, "telemetry: pool_size must be >= 1")
		}
	}

	if c.Journal.Enabled {
		if strings.TrimSpace(c.Journal.DSN) == "" {
			errs = append(errs, "journal: dsn must not be empty when enabled")
		}
		if c.Journal.PoolMaxConns < 1 {
			errs = append(errs, "journal: pool_max_conns must be >= 1")
		}
		if c.Journal.PoolMinConns < 0 || c.Journal.PoolMinConns > c.Journal.PoolMaxConns {
			errs = append(errs, "journal: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Validate checks the authd server configuration.
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", s.Port))
	}
	if s.AdminToken == "" {
		errs = append(errs, "server: admin_token must not be empty")
	}
	if s.VerifyWindow.Duration <= 0 {
		errs = append(errs, "server: verify_window must be > 0")
	}
	if s.PurgeWindow.Duration <= s.VerifyWindow.Duration {
		errs = append(errs, "server: purge_window must exceed verify_window")
	}
	if s.SweepInterval.Duration <= 0 {
		errs = append(errs, "server: sweep_interval must be > 0")
	}
	if !validLogLevels[strings.ToLower(s.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", s.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
