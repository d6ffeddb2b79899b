package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withSandboxHome(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("SANDBOX_HOME", dir)
	ClearCache()
	t.Cleanup(ClearCache)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	withSandboxHome(t, t.TempDir())

	p, err := Load()
	require.NoError(t, err)
	require.Equal(t, "auto", p.Color)
	require.Equal(t, "normal", p.Verbosity)
	require.True(t, p.GetRelativeTimestamps())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	withSandboxHome(t, t.TempDir())

	off := false
	require.NoError(t, Save(&Prefs{Color: "never", Verbosity: "quiet", RelativeTimestamps: &off}))

	p, err := Load()
	require.NoError(t, err)
	require.Equal(t, "never", p.Color)
	require.Equal(t, "quiet", p.Verbosity)
	require.False(t, p.GetRelativeTimestamps())
}

func TestLoadCachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	withSandboxHome(t, dir)

	require.NoError(t, Save(&Prefs{Color: "always", Verbosity: "verbose"}))

	first, err := Load()
	require.NoError(t, err)
	require.Equal(t, "always", first.Color)

	// Overwrite the file directly without going through Save/ClearCache.
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`color = "never"`), 0o600))

	second, err := Load()
	require.NoError(t, err)
	require.Equal(t, "always", second.Color, "cached value should survive an on-disk change until ClearCache")
}

func TestApplyDefaultsFillsBlankFieldsOnly(t *testing.T) {
	withSandboxHome(t, t.TempDir())

	path, err := Path()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`verbosity = "quiet"`+"\n"), 0o600))

	p, err := Load()
	require.NoError(t, err)
	require.Equal(t, "auto", p.Color, "unset color should fall back to default")
	require.Equal(t, "quiet", p.Verbosity, "explicit verbosity should be preserved")
}

func TestMalformedFileReturnsErrorAndDefaultCache(t *testing.T) {
	dir := t.TempDir()
	withSandboxHome(t, dir)

	path := filepath.Join(dir, FileName)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o600))

	p, err := Load()
	require.Error(t, err)
	require.Equal(t, "auto", p.Color)
}
