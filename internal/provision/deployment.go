package provision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
)

// Env is what an App sees of the run.
type Env struct {
	Config  *config.Config
	Host    *host.Session
	Secrets SecretFunc
}

func (e *Env) debian() bool { return e.Config.LinuxDistro == config.Ubuntu }

// App installs and configures one deployable application on the host, and
// describes how to run it as a container.
type App struct {
	Kind      config.AppKind
	Install   func(ctx context.Context, env *Env) error
	Configure func(ctx context.Context, env *Env) error

	Image string
	Port  int
	// ContainerEnv names the environment variable that receives a generated
	// password when the image requires one.
	ContainerEnv string
}

// Registry maps application kinds to their handlers in registration order.
type Registry struct {
	apps  map[config.AppKind]App
	order []config.AppKind
}

func NewRegistry(apps ...App) *Registry {
	r := &Registry{apps: make(map[config.AppKind]App)}
	for _, a := range apps {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any app of the same kind.
func (r *Registry) Register(a App) {
	if _, ok := r.apps[a.Kind]; !ok {
		r.order = append(r.order, a.Kind)
	}
	r.apps[a.Kind] = a
}

// Lookup returns the app for kind, or a *config.UnsupportedError.
func (r *Registry) Lookup(kind config.AppKind) (App, error) {
	a, ok := r.apps[kind]
	if !ok {
		return App{}, &config.UnsupportedError{Field: "deployed_apps", Value: string(kind)}
	}
	return a, nil
}

func (r *Registry) Kinds() []config.AppKind {
	return append([]config.AppKind(nil), r.order...)
}

func (p *Provisioner) env(h *host.Session) *Env {
	return &Env{Config: p.cfg, Host: h, Secrets: p.secrets}
}

func (p *Provisioner) deployment(ctx context.Context, s *phase.Scope) error {
	env := p.env(p.session(s))

	for _, kind := range p.cfg.DeployedApps {
		app, err := p.apps.Lookup(kind)
		if err != nil {
			return err
		}
		p.logger.Info("deploying app", zap.String("app", string(kind)))
		if app.Install != nil {
			if err := app.Install(ctx, env); err != nil {
				return fmt.Errorf("install %s: %w", kind, err)
			}
		}
		if app.Configure != nil {
			if err := app.Configure(ctx, env); err != nil {
				return fmt.Errorf("configure %s: %w", kind, err)
			}
		}
	}
	return nil
}
