// Package precheck verifies that the host can be provisioned before any
// phase touches it.
package precheck

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/pkgmgr"
)

// Check is the interface for environment validation checks.
type Check interface {
	Name() string
	Run() CheckResult
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// RunResult holds the aggregate outcome of all checks.
type RunResult struct {
	AllPassed bool          `json:"all_passed"`
	Results   []CheckResult `json:"results"`
	Duration  string        `json:"duration"`
}

// Failed returns the results that did not pass.
func (r RunResult) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Runner manages and executes a collection of checks.
type Runner struct {
	mu     sync.RWMutex
	checks []Check
}

func NewRunner() *Runner {
	return &Runner{}
}

// Add appends a check to the runner (thread-safe).
func (r *Runner) Add(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// Run executes all checks sequentially, times execution, and returns RunResult.
func (r *Runner) Run() RunResult {
	r.mu.RLock()
	checks := make([]Check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	start := time.Now()
	var results []CheckResult
	allPassed := true
	for _, c := range checks {
		result := c.Run()
		results = append(results, result)
		if !result.Passed {
			allPassed = false
		}
	}
	return RunResult{
		AllPassed: allPassed,
		Results:   results,
		Duration:  time.Since(start).String(),
	}
}

// Checks returns the names of all registered checks.
func (r *Runner) Checks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// RequiredBinaries are invoked directly by the phases regardless of distro.
var RequiredBinaries = []string{"systemctl", "curl", "tar"}

// MinFreeBytes is the free space a live run requires on "/".
const MinFreeBytes = 2 << 30

// DefaultRunner creates the checks a real run needs. Root, binary and disk
// checks are omitted when provisioning a directory other than "/", since those runs
// never touch the live system.
func DefaultRunner(cfg *config.Config) *Runner {
	r := NewRunner()
	live := filepath.Clean(cfg.Runtime.Root) == "/"
	if live {
		r.Add(RootCheck{})
		for _, b := range RequiredBinaries {
			r.Add(BinaryCheck{Binary: b})
		}
		r.Add(DiskSpaceCheck{Path: "/", MinFree: MinFreeBytes})
	}
	r.Add(PackageManagerCheck{Root: cfg.Runtime.Root, Distro: cfg.LinuxDistro})
	r.Add(WritableDirCheck{Dir: cfg.Runtime.BaseDir})
	if cfg.Runtime.LogDir != "" {
		r.Add(WritableDirCheck{Dir: cfg.Runtime.LogDir})
	}
	return r
}

// RootCheck passes when the effective uid is 0.
type RootCheck struct {
	Euid func() int // defaults to unix.Geteuid
}

func (c RootCheck) Name() string { return "root" }
func (c RootCheck) Run() CheckResult {
	euid := c.Euid
	if euid == nil {
		euid = unix.Geteuid
	}
	if uid := euid(); uid != 0 {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("must run as root (euid %d)", uid)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// BinaryCheck validates that an executable binary is available in PATH.
type BinaryCheck struct {
	Binary string
}

func (c BinaryCheck) Name() string { return "binary:" + c.Binary }
func (c BinaryCheck) Run() CheckResult {
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("%s not found in PATH", c.Binary)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: fmt.Sprintf("found at %s", path)}
}

// PackageManagerCheck verifies that the package manager found under Root is
// the one the configured distro ships with.
type PackageManagerCheck struct {
	Root   string
	Distro config.Distro
}

func (c PackageManagerCheck) Name() string { return "pkgmgr" }
func (c PackageManagerCheck) Run() CheckResult {
	want, err := pkgmgr.ForDistro(c.Distro)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	got, err := pkgmgr.Detect(c.Root)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	if got != want {
		return CheckResult{Name: c.Name(), Passed: false,
			Message: fmt.Sprintf("%s expects %s but found %s", c.Distro, want, got)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: string(got)}
}

// WritableDirCheck creates Dir if needed and writes a temp file into it.
type WritableDirCheck struct {
	Dir string
}

func (c WritableDirCheck) Name() string { return "writable:" + c.Dir }
func (c WritableDirCheck) Run() CheckResult {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(c.Dir, ".forge-write-*")
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	f.Close()
	os.Remove(f.Name())
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// DiskSpaceCheck requires at least MinFree bytes available to unprivileged
// writers on the filesystem holding Path.
type DiskSpaceCheck struct {
	Path    string
	MinFree uint64
}

func (c DiskSpaceCheck) Name() string { return "disk:" + c.Path }

func (c DiskSpaceCheck) Run() CheckResult {
	var st unix.Statfs_t
	if err := unix.Statfs(c.Path, &st); err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	free := st.Bavail * uint64(st.Bsize)
	msg := fmt.Sprintf("%d MiB free", free>>20)
	if free < c.MinFree {
		return CheckResult{Name: c.Name(), Passed: false, Message: msg,
			Hint: fmt.Sprintf("packages and container images need at least %d MiB", c.MinFree>>20)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: msg}
}
