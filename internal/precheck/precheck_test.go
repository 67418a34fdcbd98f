package precheck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/serverforge/internal/config"
)

func fakeRoot(t *testing.T, bin string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", bin), []byte("#!/bin/sh\n"), 0755))
	return root
}

func TestRootCheck(t *testing.T) {
	pass := RootCheck{Euid: func() int { return 0 }}.Run()
	assert.True(t, pass.Passed)
	assert.Equal(t, "root", pass.Name)

	fail := RootCheck{Euid: func() int { return 1000 }}.Run()
	assert.False(t, fail.Passed)
	assert.Contains(t, fail.Message, "euid 1000")
}

func TestBinaryCheck(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c := BinaryCheck{Binary: "sh"}
		result := c.Run()

		assert.True(t, result.Passed)
		assert.Contains(t, result.Message, "/sh")
		assert.Equal(t, "binary:sh", result.Name)
	})

	t.Run("not_found", func(t *testing.T) {
		c := BinaryCheck{Binary: "nonexistent_binary_xyz_abc_123"}
		result := c.Run()

		assert.False(t, result.Passed)
		assert.Contains(t, result.Message, "not found in PATH")
	})
}

func TestPackageManagerCheck(t *testing.T) {
	root := fakeRoot(t, "apt-get")

	ok := PackageManagerCheck{Root: root, Distro: config.Ubuntu}.Run()
	assert.True(t, ok.Passed)
	assert.Equal(t, "apt", ok.Message)

	mismatch := PackageManagerCheck{Root: root, Distro: config.Fedora}.Run()
	assert.False(t, mismatch.Passed)
	assert.Equal(t, "fedora expects dnf but found apt", mismatch.Message)

	missing := PackageManagerCheck{Root: t.TempDir(), Distro: config.Ubuntu}.Run()
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Message, "no supported package manager")
}

func TestWritableDirCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "forge")
	result := WritableDirCheck{Dir: dir}.Run()
	assert.True(t, result.Passed)
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed")

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	result = WritableDirCheck{Dir: filepath.Join(file, "sub")}.Run()
	assert.False(t, result.Passed)
}

func TestDefaultRunnerForAlternateRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.Root = fakeRoot(t, "apt-get")
	cfg.Runtime.BaseDir = filepath.Join(t.TempDir(), "base")
	cfg.Runtime.LogDir = filepath.Join(t.TempDir(), "log")

	r := DefaultRunner(cfg)
	names := r.Checks()
	assert.Equal(t, []string{"pkgmgr", "writable:" + cfg.Runtime.BaseDir, "writable:" + cfg.Runtime.LogDir}, names)

	result := r.Run()
	assert.True(t, result.AllPassed, FormatRunResult("prechecks", result))
	assert.Empty(t, result.Failed())
}

func TestDefaultRunnerLiveHost(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.LogDir = ""
	names := DefaultRunner(cfg).Checks()
	assert.Equal(t, "root", names[0])
	for _, b := range RequiredBinaries {
		assert.Contains(t, names, "binary:"+b)
	}
	assert.Contains(t, names, "disk:/")
}

type stubCheck struct{ res CheckResult }

func (c stubCheck) Name() string     { return c.res.Name }
func (c stubCheck) Run() CheckResult { return c.res }

func TestDiskSpaceCheck(t *testing.T) {
	dir := t.TempDir()
	ok := DiskSpaceCheck{Path: dir, MinFree: 1}.Run()
	assert.True(t, ok.Passed, ok.Message)
	assert.Equal(t, "disk:"+dir, ok.Name)
	assert.Contains(t, ok.Message, "MiB free")

	short := DiskSpaceCheck{Path: dir, MinFree: 1 << 62}.Run()
	assert.False(t, short.Passed)
	assert.Contains(t, short.Hint, "at least")

	missing := DiskSpaceCheck{Path: filepath.Join(dir, "nope"), MinFree: 1}.Run()
	assert.False(t, missing.Passed)
}

func TestRunnerOneFail(t *testing.T) {
	r := NewRunner()
	r.Add(stubCheck{CheckResult{Name: "pass", Passed: true, Message: "OK"}})
	r.Add(stubCheck{CheckResult{Name: "fail", Passed: false, Message: "something broke", Hint: "fix it"}})

	result := r.Run()

	assert.False(t, result.AllPassed)
	assert.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].Passed)
	assert.False(t, result.Results[1].Passed)
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "fail", result.Failed()[0].Name)
	assert.Equal(t, []string{"pass", "fail"}, r.Checks())
}

func TestFormatRunResult(t *testing.T) {
	result := RunResult{
		Results: []CheckResult{
			{Name: "pkgmgr", Passed: true, Message: "apt"},
			{Name: "binary:systemctl", Passed: false, Message: "systemctl not found in PATH", Hint: "install systemd"},
		},
		Duration: "3ms",
	}
	want := "Host prerequisites:\n" +
		"  ok    pkgmgr            apt\n" +
		"  FAIL  binary:systemctl  systemctl not found in PATH\n" +
		"                          hint: install systemd\n" +
		"2 checks, 1 failed (3ms)\n"
	assert.Equal(t, want, FormatRunResult("Host prerequisites", result))
}

func TestFormatSectionsJSON(t *testing.T) {
	js, err := FormatSectionsJSON(
		Section{Title: "Forge state", Result: RunResult{AllPassed: true, Results: []CheckResult{{Name: "lock", Passed: true, Message: "FREE"}}}},
		Section{Title: "Host prerequisites", Result: RunResult{Results: []CheckResult{{Name: "root", Message: "must run as root"}}}},
	)
	require.NoError(t, err)

	var got []Section
	require.NoError(t, json.Unmarshal([]byte(js), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Forge state", got[0].Title)
	assert.True(t, got[0].Result.AllPassed)
	assert.False(t, got[1].Result.AllPassed)
	assert.Equal(t, "root", got[1].Result.Results[0].Name)
	assert.NotContains(t, js, `"hint"`)

	empty, err := FormatSectionsJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
