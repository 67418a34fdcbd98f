// Package redact masks secrets in command lines and messages before they
// reach the log file, the dry-run listing or the audit trail.
package redact

import "sort"

// Config controls what the Redactor redacts.
type Config struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	RedactIPs      string   `yaml:"redact_ips" json:"redact_ips" validate:"omitempty,oneof=private_only all none"`
	CustomPatterns []string `yaml:"custom_patterns" json:"custom_patterns,omitempty" validate:"dive,redactpattern"`
	Placeholder    string   `yaml:"placeholder" json:"placeholder,omitempty"`
}

// DefaultConfig enables the built-in secret rules and leaves IP addresses alone.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RedactIPs:   "none",
		Placeholder: "[REDACTED]",
	}
}

// Redactor applies a sorted set of redaction rules to strings.
type Redactor struct {
	rules       []rule
	placeholder string
}

// New compiles a Redactor from cfg. A disabled config yields a passthrough.
func New(cfg Config) *Redactor {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = "[REDACTED]"
	}
	if !cfg.Enabled {
		return &Redactor{placeholder: placeholder}
	}

	var rules []rule
	rules = append(rules, builtinRules(placeholder)...)
	rules = append(rules, ipRules(cfg.RedactIPs, placeholder)...)
	rules = append(rules, customRules(cfg.CustomPatterns, placeholder)...)

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &Redactor{rules: rules, placeholder: placeholder}
}

// Redact applies all compiled rules sequentially to the input string and
// returns the redacted result.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllStringFunc(result, rule.replace)
	}
	return result
}

// Func returns r.Redact, or the identity function for a nil Redactor.
func (r *Redactor) Func() func(string) string {
	if r == nil {
		return func(s string) string { return s }
	}
	return r.Redact
}
