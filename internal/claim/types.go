// Package claim drives the retry loop that activates an offer for a list of phone keys.
package claim

import (
	"fmt"
	"strings"

	"github.com/Proton-105/claim-bot/internal/endpoint"
	"github.com/Proton-105/claim-bot/pkg/config"
)

// Type is an offer tier; each tier has its own endpoint.
type Type string

const (
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
)

// Types lists the tiers in menu order.
var Types = []Type{Weekly, Monthly}

// ParseType accepts a tier name in any case.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case Weekly:
		return Weekly, true
	case Monthly:
		return Monthly, true
	default:
		return "", false
	}
}

// Label is the human-readable tier name.
func (t Type) Label() string {
	switch t {
	case Weekly:
		return "Weekly"
	case Monthly:
		return "Monthly"
	default:
		return string(t)
	}
}

// Target is the endpoint used for one tier.
type Target struct {
	Endpoint   endpoint.Target
	PhoneParam string
	Offer      string
}

// Targets maps every tier to its endpoint.
type Targets map[Type]Target

// TargetsFromConfig builds the fixed tier to endpoint mapping.
func TargetsFromConfig(cfg config.ClaimConfig) (Targets, error) {
	targets := Targets{
		Weekly:  targetFrom(cfg.Weekly, Weekly),
		Monthly: targetFrom(cfg.Monthly, Monthly),
	}
	for t, target := range targets {
		if target.Endpoint.URL == "" {
			return nil, fmt.Errorf("claim endpoint for %s is not configured", t)
		}
	}
	return targets, nil
}

func targetFrom(ep config.RemoteEndpoint, t Type) Target {
	target := Target{
		Endpoint:   endpoint.Target{URL: ep.URL, Method: ep.Method},
		PhoneParam: ep.PhoneParam,
		Offer:      ep.Offer,
	}
	if target.PhoneParam == "" {
		target.PhoneParam = "msisdn"
	}
	if target.Offer == "" {
		target.Offer = t.Label()
	}
	return target
}
