// SPDX-License-Identifier: MIT

// Package config loads and validates the warmline daemon configuration
// with precedence ENV > file > defaults.
package config

import "time"

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	// Server
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	Version    string `yaml:"-"`

	// Redis (signal channel + session registry)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Media room collaborator
	MediaRoomURL    string `yaml:"media_room_url"`
	MediaRoomAPIKey string `yaml:"media_room_api_key"`

	// Telephony collaborator
	TelephonyURL      string `yaml:"telephony_url"`
	TelephonyAPIKey   string `yaml:"telephony_api_key"`
	TelephonyCallerID string `yaml:"telephony_caller_id"`

	// Summarizer collaborator
	SummarizerAPIKey  string        `yaml:"summarizer_api_key"`
	SummarizerBaseURL string        `yaml:"summarizer_base_url"`
	SummarizerModel   string        `yaml:"summarizer_model"`
	SummarizerTimeout time.Duration `yaml:"summarizer_timeout"`

	// Signaling
	SignalTTL          time.Duration `yaml:"signal_ttl"`
	SignalPollInterval time.Duration `yaml:"signal_poll_interval"`

	// Conference bridge credentials
	CredentialTTL       time.Duration `yaml:"credential_ttl"`
	CredentialRefresh   time.Duration `yaml:"credential_refresh"`
	RetryBackoff        time.Duration `yaml:"retry_backoff"`
	RestartBackoff      time.Duration `yaml:"restart_backoff"`
	ConsultationTimeout time.Duration `yaml:"consultation_timeout"` // 0 disables the watchdog

	// Rate limiting
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:         ":8080",
		LogLevel:           "info",
		RedisAddr:          "localhost:6379",
		SummarizerModel:    "llama-3.1-8b-instant",
		SummarizerTimeout:  10 * time.Second,
		SignalTTL:          30 * time.Second,
		SignalPollInterval: 2 * time.Second,
		CredentialTTL:      4 * time.Hour,
		CredentialRefresh:  3 * time.Hour,
		RetryBackoff:       3 * time.Second,
		RestartBackoff:     5 * time.Second,
		RateLimitRPS:       50,
		RateLimitBurst:     100,
	}
}
