package pkgmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/executor"
)

func fakeRoot(t *testing.T, bins ...string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))
	for _, b := range bins {
		require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", b), []byte("#!/bin/sh\n"), 0755))
	}
	return root
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		bins []string
		want Kind
	}{
		{"apt", []string{"apt-get"}, Apt},
		{"yum", []string{"yum"}, Yum},
		{"dnf", []string{"dnf"}, Dnf},
		{"fedora yum shim", []string{"yum", "dnf"}, Dnf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(fakeRoot(t, tt.bins...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectNone(t *testing.T) {
	_, err := Detect(fakeRoot(t))
	assert.ErrorIs(t, err, ErrNotDetected)
}

func TestForDistro(t *testing.T) {
	k, err := ForDistro(config.Ubuntu)
	require.NoError(t, err)
	assert.Equal(t, Apt, k)

	k, err = ForDistro(config.CentOS)
	require.NoError(t, err)
	assert.Equal(t, Yum, k)

	k, err = ForDistro(config.Fedora)
	require.NoError(t, err)
	assert.Equal(t, Dnf, k)

	_, err = ForDistro("arch")
	assert.ErrorIs(t, err, config.ErrUnsupported)
}

func TestManagerCommands(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		kind Kind
		want []string
	}{
		{Apt, []string{
			"apt-get install -y curl wget",
			"apt-get remove -y curl",
			"apt-get update",
			"apt-get update",
			"apt-get upgrade -y",
		}},
		{Yum, []string{
			"yum install -y curl wget",
			"yum remove -y curl",
			"yum makecache",
			"yum update -y",
		}},
		{Dnf, []string{
			"dnf install -y curl wget",
			"dnf remove -y curl",
			"dnf makecache",
			"dnf upgrade -y",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m := executor.NewMock()
			pm := New(tt.kind, m)
			require.NoError(t, pm.Install(ctx, "curl", "wget"))
			require.NoError(t, pm.Uninstall(ctx, "curl"))
			require.NoError(t, pm.Refresh(ctx))
			require.NoError(t, pm.Update(ctx))
			assert.Equal(t, tt.want, m.Lines())
		})
	}
}

func TestInstallNothingIsNoop(t *testing.T) {
	m := executor.NewMock()
	require.NoError(t, New(Apt, m).Install(context.Background()))
	assert.Empty(t, m.Calls())
}

func TestInstallWrapsCommandError(t *testing.T) {
	m := executor.NewMock()
	m.Fail("apt-get install", &executor.CommandError{Name: "apt-get", ExitCode: 100, Stderr: "E: Unable to locate package nope"})

	err := New(Apt, m).Install(context.Background(), "nope")
	require.Error(t, err)
	var cerr *executor.CommandError
	assert.True(t, errors.As(err, &cerr))
	assert.Contains(t, err.Error(), "pkgmgr: install [nope]")
}

func TestRemoverDetectsAtCallTime(t *testing.T) {
	root := fakeRoot(t)
	r := Remover{Root: root, Runner: executor.NewMock()}

	_, err := r.Detect(context.Background())
	assert.ErrorIs(t, err, ErrNotDetected)

	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "dnf"), nil, 0755))
	pm, err := r.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Dnf, pm.Kind())
}

func TestInstalled(t *testing.T) {
	ctx := context.Background()
	status := func(pkg string) string { return "dpkg-query -W -f=${Status} " + pkg }

	m := executor.NewMock()
	m.SetOutput(status("curl"), []byte("install ok installed"))
	m.SetOutput(status("vim"), []byte("deinstall ok config-files"))
	m.Fail(status("nope"), &executor.CommandError{Name: "dpkg-query", ExitCode: 1, Stderr: "dpkg-query: no packages found matching nope"})
	m.Fail(status("broken"), &executor.CommandError{Name: "dpkg-query", ExitCode: 2, Stderr: "dpkg-query: error: parsing file"})
	apt := New(Apt, m)

	for pkg, want := range map[string]bool{"curl": true, "vim": false, "nope": false} {
		got, err := apt.Installed(ctx, pkg)
		require.NoError(t, err, pkg)
		assert.Equal(t, want, got, pkg)
	}
	_, err := apt.Installed(ctx, "broken")
	assert.ErrorContains(t, err, "pkgmgr: query broken")

	m = executor.NewMock()
	m.SetOutput("rpm -qa --queryformat=%{NAME}: curl", []byte("curl:"))
	m.SetOutput("rpm -qa --queryformat=%{NAME}: wget", []byte("wget2:"))
	dnf := New(Dnf, m)

	got, err := dnf.Installed(ctx, "curl")
	require.NoError(t, err)
	assert.True(t, got)
	got, err = dnf.Installed(ctx, "wget")
	require.NoError(t, err)
	assert.False(t, got)
	got, err = dnf.Installed(ctx, "fail2ban")
	require.NoError(t, err)
	assert.False(t, got)
}
