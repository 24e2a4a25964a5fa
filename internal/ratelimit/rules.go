package ratelimit

import (
	"errors"
	"time"

	"github.com/Proton-105/claim-bot/pkg/config"
)

// Rules encapsulates the configured limits. Admins are always whitelisted.
type Rules struct {
	config    config.RateLimitConfig
	whitelist map[int64]struct{}
}

// NewRules builds Rules from configuration and the operator IDs.
func NewRules(cfg config.RateLimitConfig, admins []int64) *Rules {
	whitelist := make(map[int64]struct{}, len(cfg.Whitelist)+len(admins))
	for _, id := range cfg.Whitelist {
		whitelist[id] = struct{}{}
	}
	for _, id := range admins {
		whitelist[id] = struct{}{}
	}
	return &Rules{config: cfg, whitelist: whitelist}
}

func (r *Rules) Enabled() bool {
	return r != nil && r.config.Enabled
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	_, ok := r.whitelist[userID]
	return ok
}

// PerUser returns the per-user limit and window.
func (r *Rules) PerUser() (int, time.Duration, error) {
	return parseRule(r.config.PerUser)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Limit <= 0 {
		return 0, 0, errors.New("limit must be positive")
	}
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}
	return rule.Limit, window, nil
}
