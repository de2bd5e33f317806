package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Class names a quota bucket.
type Class string

const (
	ClassSignIn      Class = "signin"
	ClassAML         Class = "aml"
	ClassPublicLeads Class = "public_leads"
	ClassLeads       Class = "leads"
	ClassSensitive   Class = "sensitive"
	ClassAPI         Class = "api"
	// ClassKeyFailures counts rejected API key attempts per IP.
	ClassKeyFailures Class = "api_key_failures"
)

// Rule is a quota: Limit hits per Window.
type Rule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Policy maps each class to its rule.
type Policy map[Class]Rule

// DefaultPolicy returns the built-in quotas.
func DefaultPolicy() Policy {
	return Policy{
		ClassSignIn:      {Limit: 5, Window: 15 * time.Minute},
		ClassAML:         {Limit: 100, Window: 24 * time.Hour},
		ClassPublicLeads: {Limit: 10, Window: time.Hour},
		ClassLeads:       {Limit: 100, Window: time.Hour},
		ClassSensitive:   {Limit: 10, Window: 10 * time.Minute},
		ClassAPI:         {Limit: 100, Window: time.Minute},
		ClassKeyFailures: {Limit: 20, Window: 15 * time.Minute},
	}
}

// Rule returns the rule for class, falling back to the api class.
func (p Policy) Rule(class Class) Rule {
	if r, ok := p[class]; ok {
		return r
	}
	return p[ClassAPI]
}

type policyFile struct {
	Classes map[string]struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"classes"`
}

// ParsePolicy overlays the YAML document onto the defaults:
//
//	classes:
//	  aml: {limit: 50, window: 24h}
func ParsePolicy(data []byte) (Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rate limit policy: %w", err)
	}
	p := DefaultPolicy()
	for name, raw := range doc.Classes {
		class := Class(name)
		rule, known := p[class]
		if !known {
			return nil, fmt.Errorf("unknown rate limit class %q", name)
		}
		if raw.Limit < 0 {
			return nil, fmt.Errorf("class %q: limit must not be negative", name)
		}
		if raw.Limit > 0 {
			rule.Limit = raw.Limit
		}
		if raw.Window != "" {
			d, err := time.ParseDuration(raw.Window)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("class %q: invalid window %q", name, raw.Window)
			}
			rule.Window = d
		}
		p[class] = rule
	}
	return p, nil
}

// LoadPolicy reads path, or returns the defaults when path is empty.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit policy: %w", err)
	}
	return ParsePolicy(data)
}
