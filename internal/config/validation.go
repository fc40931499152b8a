// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the resolved configuration and collects all violations
// into a single error so operators see every problem at once.
func (c AppConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ListenAddr) == "" {
		problems = append(problems, "listen_addr must not be empty")
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		problems = append(problems, "redis_addr must not be empty")
	}
	if c.SignalTTL <= 0 {
		problems = append(problems, "signal_ttl must be positive")
	}
	if c.SignalPollInterval <= 0 {
		problems = append(problems, "signal_poll_interval must be positive")
	}
	if c.CredentialTTL <= 0 {
		problems = append(problems, "credential_ttl must be positive")
	}
	if c.CredentialRefresh <= 0 {
		problems = append(problems, "credential_refresh must be positive")
	}
	if c.CredentialRefresh >= c.CredentialTTL {
		problems = append(problems, fmt.Sprintf(
			"credential_refresh (%s) must be shorter than credential_ttl (%s)",
			c.CredentialRefresh, c.CredentialTTL))
	}
	if c.RetryBackoff <= 0 {
		problems = append(problems, "retry_backoff must be positive")
	}
	if c.RestartBackoff <= 0 {
		problems = append(problems, "restart_backoff must be positive")
	}
	if c.ConsultationTimeout < 0 {
		problems = append(problems, "consultation_timeout must not be negative")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
