package host

import (
	"context"
	"fmt"
)

// Systemctl runs "systemctl verb units...".
func (s *Session) Systemctl(ctx context.Context, verb string, units ...string) error {
	args := append([]string{verb}, units...)
	if err := s.runner.Run(ctx, "systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %s %v: %w", verb, units, err)
	}
	return nil
}

// EnableNow starts unit and enables it at boot.
func (s *Session) EnableNow(ctx context.Context, unit string) error {
	return s.Systemctl(ctx, "enable", "--now", unit)
}

func (s *Session) Restart(ctx context.Context, unit string) error {
	return s.Systemctl(ctx, "restart", unit)
}

func (s *Session) Reload(ctx context.Context, unit string) error {
	return s.Systemctl(ctx, "reload", unit)
}

func (s *Session) DaemonReload(ctx context.Context) error {
	return s.Systemctl(ctx, "daemon-reload")
}
