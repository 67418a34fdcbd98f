package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lyndonlyu/serverforge/internal/redact"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("firewallrule", func(fl validator.FieldLevel) bool {
		return ValidFirewallRule(fl.Field().String())
	})
	_ = v.RegisterValidation("redactpattern", func(fl validator.FieldLevel) bool {
		return redact.ValidPattern(fl.Field().String())
	})
	return v
}

// ValidFirewallRule reports whether ParseFirewallRule accepts rule.
func ValidFirewallRule(rule string) bool {
	_, err := ParseFirewallRule(rule)
	return err == nil
}

// Validate normalizes enum casing and checks the whole config once, so the
// provisioning code never needs an "unsupported value" fallback of its own.
func (c *Config) Validate() error {
	c.normalize()

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		out := make([]error, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, fieldError(fe))
		}
		return errors.Join(out...)
	}

	if c.UseKubernetes && !c.UseContainers {
		return errors.New("config: use_kubernetes requires use_containers")
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	if ns := fe.Namespace(); strings.Contains(ns, ".runtime.") {
		field = "runtime." + strings.SplitN(ns, ".runtime.", 2)[1]
	}
	value := fmt.Sprint(fe.Value())

	switch fe.Tag() {
	case "oneof", "firewallrule":
		return &UnsupportedError{Field: field, Value: value}
	case "redactpattern":
		return fmt.Errorf("config: %s: invalid pattern %q", field, value)
	case "required":
		return fmt.Errorf("config: %s is required", field)
	default:
		return fmt.Errorf("config: invalid %s %q (%s=%s)", field, value, fe.Tag(), fe.Param())
	}
}

func (c *Config) normalize() {
	c.LinuxDistro = Distro(lower(string(c.LinuxDistro)))
	c.ServerRole = Role(lower(string(c.ServerRole)))
	c.SecurityLevel = SecurityLevel(lower(string(c.SecurityLevel)))
	c.BackupFrequency = BackupFrequency(lower(string(c.BackupFrequency)))
	c.UpdateSchedule = UpdateSchedule(lower(string(c.UpdateSchedule)))
	c.Runtime.RollbackMode = RollbackMode(lower(string(c.Runtime.RollbackMode)))
	for i, a := range c.DeployedApps {
		c.DeployedApps[i] = AppKind(lower(string(a)))
	}
	for i, r := range c.CustomFirewallRules {
		c.CustomFirewallRules[i] = strings.TrimSpace(r)
	}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
