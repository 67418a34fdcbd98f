package e2e_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestEnv is an isolated host for one test: a provisioning root, forge's
// state directory and a config file whose logs stay inside the temp tree.
type TestEnv struct {
	Root    string // stands in for /
	BaseDir string // runtime.base_dir
	LogDir  string
	Config  string
	T       *testing.T
}

const webConfig = `linux_distro: ubuntu
server_role: web
security_level: intermediate
monitoring: true
backup_frequency: daily
update_schedule: weekly
deployed_apps: [nginx, php]
custom_firewall_rules: ["8080/tcp"]
`

func newTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	dir := t.TempDir()
	env := &TestEnv{
		Root:    filepath.Join(dir, "root"),
		BaseDir: filepath.Join(dir, "state"),
		LogDir:  filepath.Join(dir, "log"),
		Config:  filepath.Join(dir, "forge.yaml"),
		T:       t,
	}
	if err := os.MkdirAll(env.Root, 0755); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	env.writeConfig(webConfig)
	return env
}

// writeConfig writes body plus a runtime section pointing the logs at LogDir.
func (e *TestEnv) writeConfig(body string) {
	e.T.Helper()
	body += "runtime:\n  log_dir: " + e.LogDir + "\n"
	if err := os.WriteFile(e.Config, []byte(body), 0644); err != nil {
		e.T.Fatalf("write config: %v", err)
	}
}

// runForge executes forge against this environment's config, root and state.
func (e *TestEnv) runForge(args ...string) (stdout, stderr string, exitCode int) {
	e.T.Helper()
	args = append(args, "--config", e.Config, "--root", e.Root, "--base-dir", e.BaseDir, "--log-level", "error")
	return runBinary(args...)
}

func runBinary(args ...string) (stdout, stderr string, exitCode int) {
	cmd := exec.Command(forgeBin, args...)
	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"TERM=dumb",
	}

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return outBuf.String(), errBuf.String(), exitCode
}

// hostFile maps an absolute host path into the test root.
func (e *TestEnv) hostFile(p string) string {
	return filepath.Join(e.Root, p)
}

func (e *TestEnv) readFile(path string) string {
	e.T.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		e.T.Fatalf("readFile(%s): %v", path, err)
	}
	return string(data)
}

func (e *TestEnv) auditDir() string {
	return filepath.Join(e.BaseDir, "audit")
}
