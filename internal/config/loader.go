// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration: defaults, then file overrides, then
// environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("WARMLINE_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("WARMLINE_LOG_LEVEL", cfg.LogLevel)

	cfg.RedisAddr = ParseString("WARMLINE_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("WARMLINE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("WARMLINE_REDIS_DB", cfg.RedisDB)

	cfg.MediaRoomURL = ParseString("WARMLINE_MEDIAROOM_URL", cfg.MediaRoomURL)
	cfg.MediaRoomAPIKey = ParseString("WARMLINE_MEDIAROOM_API_KEY", cfg.MediaRoomAPIKey)

	cfg.TelephonyURL = ParseString("WARMLINE_TELEPHONY_URL", cfg.TelephonyURL)
	cfg.TelephonyAPIKey = ParseString("WARMLINE_TELEPHONY_API_KEY", cfg.TelephonyAPIKey)
	cfg.TelephonyCallerID = ParseString("WARMLINE_TELEPHONY_CALLER_ID", cfg.TelephonyCallerID)

	cfg.SummarizerAPIKey = ParseString("WARMLINE_SUMMARIZER_API_KEY", cfg.SummarizerAPIKey)
	cfg.SummarizerBaseURL = ParseString("WARMLINE_SUMMARIZER_BASE_URL", cfg.SummarizerBaseURL)
	cfg.SummarizerModel = ParseString("WARMLINE_SUMMARIZER_MODEL", cfg.SummarizerModel)
	cfg.SummarizerTimeout = ParseDuration("WARMLINE_SUMMARIZER_TIMEOUT", cfg.SummarizerTimeout)

	cfg.SignalTTL = ParseDuration("WARMLINE_SIGNAL_TTL", cfg.SignalTTL)
	cfg.SignalPollInterval = ParseDuration("WARMLINE_SIGNAL_POLL_INTERVAL", cfg.SignalPollInterval)

	cfg.CredentialTTL = ParseDuration("WARMLINE_CREDENTIAL_TTL", cfg.CredentialTTL)
	cfg.CredentialRefresh = ParseDuration("WARMLINE_CREDENTIAL_REFRESH", cfg.CredentialRefresh)
	cfg.RetryBackoff = ParseDuration("WARMLINE_RETRY_BACKOFF", cfg.RetryBackoff)
	cfg.RestartBackoff = ParseDuration("WARMLINE_RESTART_BACKOFF", cfg.RestartBackoff)
	cfg.ConsultationTimeout = ParseDuration("WARMLINE_CONSULTATION_TIMEOUT", cfg.ConsultationTimeout)

	cfg.RateLimitRPS = ParseInt("WARMLINE_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("WARMLINE_RATE_LIMIT_BURST", cfg.RateLimitBurst)
}
