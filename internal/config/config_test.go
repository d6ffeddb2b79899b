package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreSane(t *testing.T) {
	d := Defaults()
	require.True(t, d.Enabled)
	require.Contains(t, d.ToolNames, "shell")
	require.Equal(t, "docker", d.RuntimeBinary)
	require.Equal(t, []string{"docker "}, d.BypassPrefixes)
	require.Equal(t, ScopeRoot, d.Routing.Scope)
	require.False(t, d.Routing.FallbackToHost)
	require.Equal(t, "opencode", d.ContainerConfig.NamePrefix)
	require.True(t, filepath.IsAbs(d.ContainerConfig.Workdir))
	require.NoError(t, d.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.True(t, cfg.Enabled)
	require.Equal(t, "docker", cfg.RuntimeBinary)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.jsonc")
	content := `{
  // master switch
  "enabled": true,
  "container": {
    "namePrefix": "oc",
    "image": "img:1",
    "workdir": "/workspace",
    "autoCreate": true
  },
  "routing": { "scope": "root" }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Load(path)
	require.Equal(t, "oc", cfg.ContainerConfig.NamePrefix)
	require.Equal(t, "img:1", cfg.ContainerConfig.Image)
	require.True(t, cfg.ContainerConfig.AutoCreate)
	require.Equal(t, ScopeRoot, cfg.Routing.Scope)
}

func TestLoadUnknownFieldIgnoresFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.jsonc")
	content := `{"totallyUnknownField": true}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Load(path)
	// Falls back to defaults when the file has an unrecognised field.
	require.True(t, cfg.Enabled)
	require.Equal(t, "docker", cfg.RuntimeBinary)
}

func TestLoadInvalidJSONIgnoresFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{not valid"), 0o644))

	cfg := Load(path)
	require.True(t, cfg.Enabled)
}

func TestEnvOverridesDefaultsButFileWins(t *testing.T) {
	t.Setenv("OPENCODE_SANDBOX_RUNTIME_BINARY", "podman")

	dir := t.TempDir()
	path := filepath.Join(dir, "router.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtimeBinary": "nerdctl"}`), 0o644))

	cfg := Load(path)
	require.Equal(t, "nerdctl", cfg.RuntimeBinary, "file override must win over env")
}

func TestEnvAppliesWithoutFile(t *testing.T) {
	t.Setenv("OPENCODE_SANDBOX_RUNTIME_BINARY", "podman")
	cfg := Load("")
	require.Equal(t, "podman", cfg.RuntimeBinary)
}

func TestIntercepts(t *testing.T) {
	cfg := Defaults()
	require.True(t, cfg.Intercepts("shell"))
	require.False(t, cfg.Intercepts("not-a-tool"))
}

func TestHasBypassPrefix(t *testing.T) {
	cfg := Defaults()
	require.True(t, cfg.HasBypassPrefix("docker ps"))
	require.False(t, cfg.HasBypassPrefix("echo hi && docker ps"))
}

func TestValidateRejectsRelativeWorkdir(t *testing.T) {
	cfg := Defaults()
	cfg.ContainerConfig.Workdir = "relative/path"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNoKnownTools(t *testing.T) {
	cfg := Defaults()
	cfg.ToolNames = []string{"unknown-tool"}
	require.Error(t, cfg.Validate())
}
