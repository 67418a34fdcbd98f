// Package provision holds the concrete provisioning phases and the
// application registry used by the deployment and container phases.
package provision

import (
	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
)

// Phase names in run order.
const (
	PhaseSetup      = "setup"
	PhaseSecurity   = "security"
	PhaseUpdates    = "updates"
	PhaseMonitoring = "monitoring"
	PhaseBackup     = "backup"
	PhaseDeployment = "deployment"
	PhaseDocker     = "docker"
	PhaseKubernetes = "kubernetes"
	PhaseContainers = "containers"
)

type Option func(*Provisioner)

// WithRegistry replaces the default application registry.
func WithRegistry(r *Registry) Option { return func(p *Provisioner) { p.apps = r } }

// WithSecrets replaces the random password source.
func WithSecrets(fn SecretFunc) Option { return func(p *Provisioner) { p.secrets = fn } }

// WithSudoUser names the invoking user to add to the docker group.
func WithSudoUser(user string) Option { return func(p *Provisioner) { p.sudoUser = user } }

func WithLogger(l *zap.Logger) Option { return func(p *Provisioner) { p.logger = l } }

// Provisioner builds the phase list for one validated config.
type Provisioner struct {
	cfg      *config.Config
	host     *host.Host
	apps     *Registry
	secrets  SecretFunc
	sudoUser string
	logger   *zap.Logger
}

func New(cfg *config.Config, h *host.Host, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:     cfg,
		host:    h,
		apps:    DefaultRegistry(),
		secrets: RandomPassword,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Phases returns the ordered phases for the config. Monitoring is always
// listed so a disabled run still reports it as skipped.
func (p *Provisioner) Phases() []phase.Phase {
	phases := []phase.Phase{
		{Name: PhaseSetup, Run: p.setup},
		{Name: PhaseSecurity, Run: p.security},
		{Name: PhaseUpdates, Run: p.updates},
		{Name: PhaseMonitoring, Run: p.monitoring, SkipReason: skipUnless(p.cfg.Monitoring, "monitoring disabled")},
		{Name: PhaseBackup, Run: p.backup},
	}

	if !p.cfg.UseContainers {
		return append(phases, phase.Phase{Name: PhaseDeployment, Run: p.deployment})
	}
	phases = append(phases, phase.Phase{Name: PhaseDocker, Run: p.docker})
	if p.cfg.UseKubernetes {
		phases = append(phases, phase.Phase{Name: PhaseKubernetes, Run: p.kubernetes})
	}
	return append(phases, phase.Phase{Name: PhaseContainers, Run: p.containers})
}

// Names lists the phase names Phases would return.
func (p *Provisioner) Names() []string {
	phases := p.Phases()
	out := make([]string, len(phases))
	for i, ph := range phases {
		out[i] = ph.Name
	}
	return out
}

func skipUnless(enabled bool, reason string) string {
	if enabled {
		return ""
	}
	return reason
}

func (p *Provisioner) session(s *phase.Scope) *host.Session {
	return p.host.Session(s)
}

func (p *Provisioner) debian() bool { return p.cfg.LinuxDistro == config.Ubuntu }
