package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FirewallRule is one custom_firewall_rules entry in a form both ufw and
// firewalld can apply. It is either a named Service or a set of Ports.
//
// Accepted forms:
//
//	http            service name
//	80              single port, tcp under firewalld
//	53/udp          single port with protocol
//	80,443/tcp      port list, protocol required
//	8000:8100/tcp   port range, protocol required
type FirewallRule struct {
	Service string
	Ports   []PortRange
	Proto   string
}

// PortRange is an inclusive port range. Lo == Hi for a single port.
type PortRange struct {
	Lo, Hi int
}

var serviceNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{0,63}$`)

var errBareMulti = errors.New("port lists and ranges need /tcp or /udp")

// ParseFirewallRule parses rule into its service or port form.
func ParseFirewallRule(rule string) (FirewallRule, error) {
	if serviceNameRe.MatchString(rule) {
		return FirewallRule{Service: rule}, nil
	}

	spec, proto, hasProto := strings.Cut(rule, "/")
	if hasProto && proto != "tcp" && proto != "udp" {
		return FirewallRule{}, fmt.Errorf("protocol %q is not tcp or udp", proto)
	}

	var r FirewallRule
	r.Proto = proto
	for _, part := range strings.Split(spec, ",") {
		pr, err := parsePortRange(part)
		if err != nil {
			return FirewallRule{}, err
		}
		r.Ports = append(r.Ports, pr)
	}
	if !hasProto && (len(r.Ports) > 1 || r.Ports[0].Lo != r.Ports[0].Hi) {
		return FirewallRule{}, errBareMulti
	}
	return r, nil
}

func parsePortRange(s string) (PortRange, error) {
	lo, hi, isRange := strings.Cut(s, ":")
	if !isRange {
		hi = lo
	}
	l, err := parsePort(lo)
	if err != nil {
		return PortRange{}, err
	}
	h, err := parsePort(hi)
	if err != nil {
		return PortRange{}, err
	}
	if l > h {
		return PortRange{}, fmt.Errorf("port range %s is reversed", s)
	}
	return PortRange{Lo: l, Hi: h}, nil
}

func parsePort(s string) (int, error) {
	if s == "" || len(s) > 5 || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%q is not a port", s)
	}
	n, _ := strconv.Atoi(s)
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

// FirewalldArgs returns one firewall-cmd argument per port range, or a single
// --add-service. Bare ports default to tcp.
func (r FirewallRule) FirewalldArgs() []string {
	if r.Service != "" {
		return []string{"--add-service=" + r.Service}
	}
	proto := r.Proto
	if proto == "" {
		proto = "tcp"
	}
	out := make([]string, len(r.Ports))
	for i, p := range r.Ports {
		port := strconv.Itoa(p.Lo)
		if p.Hi != p.Lo {
			port += "-" + strconv.Itoa(p.Hi)
		}
		out[i] = "--add-port=" + port + "/" + proto
	}
	return out
}
