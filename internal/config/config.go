// Package config loads the router's frozen configuration: defaults,
// layered with environment variable overrides, layered with a
// JSON-with-comments file. The result is immutable once built.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/falleco/opencode-sandbox/internal/logging"
)

// Scope selects the routing policy: session-scoped or root-scoped.
type Scope string

const (
	ScopeRoot    Scope = "root"
	ScopeSession Scope = "session"
)

// Container holds container-related settings.
type Container struct {
	NamePrefix        string            `json:"namePrefix"`
	Image             string            `json:"image"`
	Workdir           string            `json:"workdir"`
	ProjectPathOverride string          `json:"projectPath"`
	Network           string            `json:"network"`
	Env               map[string]string `json:"env"`
	Mounts            []string          `json:"mounts"`
	Command           []string          `json:"command"`
	AutoCreate        bool              `json:"autoCreate"`
	AutoStart         bool              `json:"autoStart"`
	Name              string            `json:"name"`
}

// Routing holds routing-policy settings.
type Routing struct {
	Scope          Scope `json:"scope"`
	FallbackToHost bool  `json:"fallbackToHost"`
}

// Config is the frozen, process-wide configuration. Built once by Load and
// never mutated afterward.
type Config struct {
	Enabled         bool     `json:"enabled"`
	ToolNames       []string `json:"toolNames"`
	RuntimeBinary   string   `json:"runtimeBinary"`
	BypassPrefixes  []string `json:"bypassPrefixes"`
	StateFile       string   `json:"stateFile"`
	Routing         Routing  `json:"routing"`
	ContainerConfig Container `json:"container"`
}

// defaultToolNames is the default intercepted-tool set.
var defaultToolNames = []string{"shell", "read", "write", "edit", "grep", "glob", "list"}

// Defaults returns the built-in configuration before any overrides.
func Defaults() Config {
	return Config{
		Enabled:        true,
		ToolNames:      append([]string(nil), defaultToolNames...),
		RuntimeBinary:  "docker",
		BypassPrefixes: []string{"docker "},
		StateFile:      defaultStateFilePath(),
		Routing: Routing{
			Scope:          ScopeRoot,
			FallbackToHost: false,
		},
		ContainerConfig: Container{
			NamePrefix: "opencode",
			Workdir:    "/workspace",
			AutoCreate: false,
			AutoStart:  true,
		},
	}
}

func defaultStateFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".opencode-sandbox", "state.json")
	}
	return filepath.Join(home, ".local", "share", "opencode-sandbox", "state.json")
}

// Load builds a Config by merging defaults, environment variables, and the
// JSONC file at path (if it exists). configPath may be empty, in which case
// only defaults and environment overrides apply.
func Load(configPath string) Config {
	log := logging.ForComponent(logging.CompConfig)

	cfg := Defaults()
	applyEnv(&cfg)

	if configPath == "" {
		return cfg
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("config_read_failed", "path", configPath, "error", err.Error())
		}
		return cfg
	}

	var overlay fileOverlay
	stripped := StripJSONComments(raw)
	dec := json.NewDecoder(strings.NewReader(string(stripped)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&overlay); err != nil {
		log.Warn("config_file_invalid_ignoring", "path", configPath, "error", err.Error())
		return cfg
	}

	overlay.applyTo(&cfg)
	return cfg
}

// applyEnv shadows defaults with environment variables. File overrides
// (applied by the caller after this) shadow environment variables in turn.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_RUNTIME_BINARY"); ok && v != "" {
		cfg.RuntimeBinary = v
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_STATE_FILE"); ok && v != "" {
		cfg.StateFile = v
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_SCOPE"); ok {
		switch Scope(v) {
		case ScopeRoot, ScopeSession:
			cfg.Routing.Scope = Scope(v)
		}
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_FALLBACK_TO_HOST"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Routing.FallbackToHost = b
		}
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_CONTAINER_IMAGE"); ok && v != "" {
		cfg.ContainerConfig.Image = v
	}
	if v, ok := os.LookupEnv("OPENCODE_SANDBOX_CONTAINER_NAME"); ok && v != "" {
		cfg.ContainerConfig.Name = v
	}
}

// fileOverlay mirrors Config but with every field a pointer/optional so the
// decoder can distinguish "absent" from "zero value".
type fileOverlay struct {
	Enabled        *bool     `json:"enabled"`
	ToolNames      []string  `json:"toolNames"`
	RuntimeBinary  *string   `json:"runtimeBinary"`
	BypassPrefixes []string  `json:"bypassPrefixes"`
	StateFile      *string   `json:"stateFile"`
	Routing        *struct {
		Scope          *string `json:"scope"`
		FallbackToHost *bool   `json:"fallbackToHost"`
	} `json:"routing"`
	Container *struct {
		Name       *string           `json:"name"`
		NamePrefix *string           `json:"namePrefix"`
		Image      *string           `json:"image"`
		Workdir    *string           `json:"workdir"`
		ProjectPath *string          `json:"projectPath"`
		Network    *string           `json:"network"`
		Env        map[string]string `json:"env"`
		Mounts     []string          `json:"mounts"`
		Command    []string          `json:"command"`
		AutoCreate *bool             `json:"autoCreate"`
		AutoStart  *bool             `json:"autoStart"`
	} `json:"container"`
}

func (o fileOverlay) applyTo(cfg *Config) {
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.ToolNames != nil {
		cfg.ToolNames = o.ToolNames
	}
	if o.RuntimeBinary != nil {
		cfg.RuntimeBinary = *o.RuntimeBinary
	}
	if o.BypassPrefixes != nil {
		cfg.BypassPrefixes = o.BypassPrefixes
	}
	if o.StateFile != nil {
		cfg.StateFile = *o.StateFile
	}
	if o.Routing != nil {
		if o.Routing.Scope != nil {
			cfg.Routing.Scope = Scope(*o.Routing.Scope)
		}
		if o.Routing.FallbackToHost != nil {
			cfg.Routing.FallbackToHost = *o.Routing.FallbackToHost
		}
	}
	if o.Container != nil {
		c := o.Container
		if c.Name != nil {
			cfg.ContainerConfig.Name = *c.Name
		}
		if c.NamePrefix != nil {
			cfg.ContainerConfig.NamePrefix = *c.NamePrefix
		}
		if c.Image != nil {
			cfg.ContainerConfig.Image = *c.Image
		}
		if c.Workdir != nil {
			cfg.ContainerConfig.Workdir = *c.Workdir
		}
		if c.ProjectPath != nil {
			cfg.ContainerConfig.ProjectPathOverride = *c.ProjectPath
		}
		if c.Network != nil {
			cfg.ContainerConfig.Network = *c.Network
		}
		if c.Env != nil {
			cfg.ContainerConfig.Env = c.Env
		}
		if c.Mounts != nil {
			cfg.ContainerConfig.Mounts = c.Mounts
		}
		if c.Command != nil {
			cfg.ContainerConfig.Command = c.Command
		}
		if c.AutoCreate != nil {
			cfg.ContainerConfig.AutoCreate = *c.AutoCreate
		}
		if c.AutoStart != nil {
			cfg.ContainerConfig.AutoStart = *c.AutoStart
		}
	}
}

// Intercepts reports whether toolName is in the configured intercepted set.
func (c Config) Intercepts(toolName string) bool {
	for _, t := range c.ToolNames {
		if t == toolName {
			return true
		}
	}
	return false
}

// HasBypassPrefix reports whether command starts with any configured bypass
// prefix. Prefix-only: "echo hi && docker ps" is not treated as bypassed.
func (c Config) HasBypassPrefix(command string) bool {
	for _, p := range c.BypassPrefixes {
		if p != "" && strings.HasPrefix(command, p) {
			return true
		}
	}
	return false
}

// Validate reports a descriptive error if cfg violates a Config invariant:
// workdir must be absolute, and at least one known tool must be intercepted.
func (c Config) Validate() error {
	if c.ContainerConfig.Workdir != "" && !filepath.IsAbs(c.ContainerConfig.Workdir) {
		return fmt.Errorf("config: container.workdir must be absolute, got %q", c.ContainerConfig.Workdir)
	}
	known := map[string]bool{"shell": true, "read": true, "write": true, "edit": true, "grep": true, "glob": true, "list": true}
	any := false
	for _, t := range c.ToolNames {
		if known[t] {
			any = true
			break
		}
	}
	if !any {
		return fmt.Errorf("config: toolNames must contain at least one of shell/read/write/edit/grep/glob/list")
	}
	return nil
}
