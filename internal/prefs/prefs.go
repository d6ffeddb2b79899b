// Package prefs loads and saves the CLI's cosmetic preferences file,
// ~/.sandbox/prefs.toml. These settings never affect routing decisions —
// only how the operator-tool CLI shim renders its own output.
package prefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the preferences file, relative to the sandbox home directory.
const FileName = "prefs.toml"

// Prefs holds cosmetic CLI settings for the operator tool shim.
type Prefs struct {
	// Color controls ANSI styling: "auto" (default), "always", "never".
	Color string `toml:"color"`

	// Verbosity is the saved CLI verbosity: "quiet", "normal" (default),
	// "verbose". It is stored and loaded only; no command reads it.
	Verbosity string `toml:"verbosity"`

	// RelativeTimestamps records whether timestamps are shown as "3m ago"
	// rather than RFC3339. Default: true (nil = use default true). It is
	// stored and loaded only; cliui always renders relative timestamps.
	RelativeTimestamps *bool `toml:"relative_timestamps"`
}

// GetRelativeTimestamps returns whether to render relative timestamps,
// defaulting to true.
func (p *Prefs) GetRelativeTimestamps() bool {
	if p.RelativeTimestamps == nil {
		return true
	}
	return *p.RelativeTimestamps
}

var defaultPrefs = Prefs{Color: "auto", Verbosity: "normal"}

var (
	cache   *Prefs
	cacheMu sync.RWMutex
)

// HomeDir returns $SANDBOX_HOME when set, otherwise ~/.sandbox. It does not
// create the directory.
func HomeDir() (string, error) {
	if dir := os.Getenv("SANDBOX_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("prefs: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".sandbox"), nil
}

// Path returns the full path to prefs.toml.
func Path() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads prefs.toml, returning compiled-in defaults if the file is
// absent. Results are cached for the process lifetime.
func Load() (*Prefs, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = clone(defaultPrefs)
		return cache, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = clone(defaultPrefs)
		return cache, nil
	}

	var p Prefs
	if _, err := toml.DecodeFile(path, &p); err != nil {
		cache = clone(defaultPrefs)
		return cache, fmt.Errorf("prefs.toml parse error: %w", err)
	}

	applyDefaults(&p)
	cache = &p
	return cache, nil
}

func applyDefaults(p *Prefs) {
	if p.Color == "" {
		p.Color = defaultPrefs.Color
	}
	if p.Verbosity == "" {
		p.Verbosity = defaultPrefs.Verbosity
	}
}

func clone(p Prefs) *Prefs {
	return &p
}

// Save writes p to prefs.toml using an atomic temp-file-then-rename, then
// clears the cache so the next Load picks up the change.
func Save(p *Prefs) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("prefs: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# opencode-sandbox CLI preferences\n")
	buf.WriteString("# Cosmetic only — never affects routing behavior.\n\n")
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("prefs: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("prefs: finalize save: %w", err)
	}

	ClearCache()
	return nil
}

// ClearCache drops the cached Prefs so the next Load reads fresh from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}
