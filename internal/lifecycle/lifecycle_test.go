package lifecycle

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/falleco/opencode-sandbox/internal/docker"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if err := docker.CheckAvailability(context.Background()); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

func removeContainer(name string) {
	_ = exec.Command("docker", "rm", "-f", name).Run()
}

func TestEnsureRunningEmptyNameErrors(t *testing.T) {
	m := New()
	_, err := m.EnsureRunning(context.Background(), Spec{}, true)
	require.Error(t, err)
}

func TestEnsureRunningAbsentNotAllowedErrors(t *testing.T) {
	requireDocker(t)
	m := New()
	_, err := m.EnsureRunning(context.Background(), Spec{Name: "opencode-test-absent-noallow"}, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestEnsureRunningCreateMissingProjectPathErrors(t *testing.T) {
	requireDocker(t)
	m := New()
	_, err := m.EnsureRunning(context.Background(), Spec{
		Name:        "opencode-test-missing-path",
		Image:       "busybox:latest",
		ProjectPath: "/nonexistent/path/does-not-exist",
	}, true)
	require.Error(t, err)
}

func TestEnsureRunningCreatesAndStartsContainer(t *testing.T) {
	requireDocker(t)
	name := "opencode-test-create-" + time.Now().UTC().Format("150405")
	defer removeContainer(name)

	m := New()
	dir := t.TempDir()

	res, err := m.EnsureRunning(context.Background(), Spec{
		Name:        name,
		ProjectID:   "projtest",
		ScopeID:     "scopetest",
		Image:       "busybox:latest",
		Workdir:     "/workspace",
		ProjectPath: dir,
		AutoStart:   true,
	}, true)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, StateRunning, res.State)

	// Calling again should be a no-op that reports already-running.
	res2, err := m.EnsureRunning(context.Background(), Spec{
		Name:        name,
		Image:       "busybox:latest",
		ProjectPath: dir,
		AutoStart:   true,
	}, true)
	require.NoError(t, err)
	require.False(t, res2.Created)
	require.Equal(t, StateRunning, res2.State)
}

func TestEnsureRunningStartsStoppedContainer(t *testing.T) {
	requireDocker(t)
	name := "opencode-test-stopped-" + time.Now().UTC().Format("150405")
	defer removeContainer(name)

	m := New()
	dir := t.TempDir()

	_, err := m.EnsureRunning(context.Background(), Spec{
		Name:        name,
		Image:       "busybox:latest",
		ProjectPath: dir,
		AutoStart:   true,
	}, true)
	require.NoError(t, err)

	require.NoError(t, exec.Command("docker", "stop", name).Run())

	res, err := m.EnsureRunning(context.Background(), Spec{
		Name:      name,
		AutoStart: true,
	}, false)
	require.NoError(t, err)
	require.Equal(t, StateRunning, res.State)
	require.True(t, res.Started)
}

func TestEnsureRunningAppliesResourceLimitsOnCreate(t *testing.T) {
	requireDocker(t)
	name := "opencode-test-limits-" + time.Now().UTC().Format("150405")
	defer removeContainer(name)

	m := New()
	dir := t.TempDir()

	res, err := m.EnsureRunning(context.Background(), Spec{
		Name:        name,
		Image:       "busybox:latest",
		ProjectPath: dir,
		AutoStart:   true,
		CPULimit:    "1.0",
		MemoryLimit: "256m",
	}, true)
	require.NoError(t, err)
	require.True(t, res.Created)
}

func TestEnsureRunningWorktreeMountsRepoRootNotSubdir(t *testing.T) {
	requireDocker(t)
	name := "opencode-test-worktree-" + time.Now().UTC().Format("150405")
	defer removeContainer(name)

	repoRoot := t.TempDir()
	worktreeDir := repoRoot + "/worktrees/feature-x"
	require.NoError(t, exec.Command("mkdir", "-p", worktreeDir).Run())

	m := New()
	res, err := m.EnsureRunning(context.Background(), Spec{
		Name:                 name,
		Image:                "busybox:latest",
		ProjectPath:          worktreeDir,
		AutoStart:            true,
		WorktreeRepoRoot:     repoRoot,
		WorktreeRelativePath: "worktrees/feature-x",
	}, true)
	require.NoError(t, err)
	require.True(t, res.Created)
}

func TestEnsureRunningStoppedWithoutAutoStartStaysStopped(t *testing.T) {
	requireDocker(t)
	name := "opencode-test-noautostart-" + time.Now().UTC().Format("150405")
	defer removeContainer(name)

	m := New()
	dir := t.TempDir()

	_, err := m.EnsureRunning(context.Background(), Spec{
		Name:        name,
		Image:       "busybox:latest",
		ProjectPath: dir,
		AutoStart:   true,
	}, true)
	require.NoError(t, err)
	require.NoError(t, exec.Command("docker", "stop", name).Run())

	res, err := m.EnsureRunning(context.Background(), Spec{
		Name:      name,
		AutoStart: false,
	}, false)
	require.NoError(t, err)
	require.Equal(t, StateStopped, res.State)
}
