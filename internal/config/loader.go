package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAIRBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// LoadServer reads the authd server configuration the same way.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := ServerDefaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	setInt(&cfg.Port, "PAIRBOT_AUTHD_PORT")
	setStr(&cfg.AdminToken, "PAIRBOT_AUTHD_ADMIN_TOKEN")
	setDuration(&cfg.VerifyWindow, "PAIRBOT_AUTHD_VERIFY_WINDOW")
	setDuration(&cfg.PurgeWindow, "PAIRBOT_AUTHD_PURGE_WINDOW")
	setDuration(&cfg.SweepInterval, "PAIRBOT_AUTHD_SWEEP_INTERVAL")
	setStr(&cfg.LogLevel, "PAIRBOT_AUTHD_LOG_LEVEL")

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAIRBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	setStr(&cfg.VenueA.Name, "PAIRBOT_VENUE_A_NAME")
	setStr(&cfg.VenueA.BaseURL, "PAIRBOT_VENUE_A_BASE_URL")
	setStr(&cfg.VenueA.ApiToken, "PAIRBOT_VENUE_A_API_TOKEN")
	setStr(&cfg.VenueA.Mode, "PAIRBOT_VENUE_A_MODE")
	setFloat64(&cfg.VenueA.RateLimit, "PAIRBOT_VENUE_A_RATE_LIMIT")
	setInt(&cfg.VenueA.RateBurst, "PAIRBOT_VENUE_A_RATE_BURST")
	setStr(&cfg.VenueB.Name, "PAIRBOT_VENUE_B_NAME")
	setStr(&cfg.VenueB.BaseURL, "PAIRBOT_VENUE_B_BASE_URL")
	setStr(&cfg.VenueB.ApiToken, "PAIRBOT_VENUE_B_API_TOKEN")
	setStr(&cfg.VenueB.Mode, "PAIRBOT_VENUE_B_MODE")
	setFloat64(&cfg.VenueB.RateLimit, "PAIRBOT_VENUE_B_RATE_LIMIT")
	setInt(&cfg.VenueB.RateBurst, "PAIRBOT_VENUE_B_RATE_BURST")

	// ── Authorization ──
	setStr(&cfg.Authorization.BaseURL, "PAIRBOT_AUTH_BASE_URL")
	setStr(&cfg.Authorization.Token, "PAIRBOT_AUTH_TOKEN")
	setInt(&cfg.Authorization.MaxFailures, "PAIRBOT_AUTH_MAX_FAILURES")
	setDuration(&cfg.Authorization.ExitGrace, "PAIRBOT_AUTH_EXIT_GRACE")
	setDuration(&cfg.Authorization.HTTPTimeout, "PAIRBOT_AUTH_HTTP_TIMEOUT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "PAIRBOT_MONITOR_POLL_INTERVAL")
	setFloat64(&cfg.Monitor.ProbeQuantity, "PAIRBOT_MONITOR_PROBE_QUANTITY")
	setDuration(&cfg.Monitor.RetryDelay, "PAIRBOT_MONITOR_RETRY_DELAY")

	// ── Execution ──
	setDuration(&cfg.Execution.ExitGrace, "PAIRBOT_EXECUTION_EXIT_GRACE")
	setDuration(&cfg.Execution.ReconcileGrace, "PAIRBOT_EXECUTION_RECONCILE_GRACE")
	setDuration(&cfg.Execution.ConfirmTimeout, "PAIRBOT_EXECUTION_CONFIRM_TIMEOUT")
	setDuration(&cfg.Execution.ConfirmInterval, "PAIRBOT_EXECUTION_CONFIRM_INTERVAL")
	setDuration(&cfg.Execution.SettleDelay, "PAIRBOT_EXECUTION_SETTLE_DELAY")
	setFloat64(&cfg.Execution.LotTick, "PAIRBOT_EXECUTION_LOT_TICK")
	setDuration(&cfg.Execution.BalanceRefresh, "PAIRBOT_EXECUTION_BALANCE_REFRESH")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "PAIRBOT_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Addr, "PAIRBOT_TELEMETRY_ADDR")
	setStr(&cfg.Telemetry.Password, "PAIRBOT_TELEMETRY_PASSWORD")
	setInt(&cfg.Telemetry.DB, "PAIRBOT_TELEMETRY_DB")
	setInt(&cfg.Telemetry.PoolSize, "PAIRBOT_TELEMETRY_POOL_SIZE")
	setInt(&cfg.Telemetry.MaxRetries, "PAIRBOT_TELEMETRY_MAX_RETRIES")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "PAIRBOT_JOURNAL_ENABLED")
	setStr(&cfg.Journal.DSN, "PAIRBOT_JOURNAL_DSN")
	setInt(&cfg.Journal.PoolMaxConns, "PAIRBOT_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "PAIRBOT_JOURNAL_POOL_MIN_CONNS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PAIRBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
