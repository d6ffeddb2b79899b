// Command opencode-sandbox is the CLI shim over the router's five
// agent-callable container tools, plus diagnostics the agent framework
// itself never needs: hooks status, and a manual pre/post-hook simulation
// harness for exercising the routing logic without a live agent session.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/falleco/opencode-sandbox/internal/cliui"
	"github.com/falleco/opencode-sandbox/internal/config"
	"github.com/falleco/opencode-sandbox/internal/hook"
	"github.com/falleco/opencode-sandbox/internal/lifecycle"
	"github.com/falleco/opencode-sandbox/internal/logging"
	"github.com/falleco/opencode-sandbox/internal/operator"
	"github.com/falleco/opencode-sandbox/internal/prefs"
	"github.com/falleco/opencode-sandbox/internal/routing"
	"github.com/falleco/opencode-sandbox/internal/scope"
)

// Version is the CLI's own version, independent of any routing semantics.
const Version = "0.1.0"

// runtime bundles every component main needs to dispatch a subcommand,
// wired once per process invocation.
type runtime struct {
	cfg         config.Config
	projectRoot string
	projectID   string

	resolver  *scope.Resolver
	store     *routing.Store
	lifecycle *lifecycle.Manager

	op   *operator.Operator
	hook *hook.Hook

	watcher *config.Watcher
}

// newRuntime resolves the project root, loads layered config, and wires the
// routing primitives together. Called once at the top of main for every
// subcommand except version/help.
func newRuntime() (*runtime, error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("opencode-sandbox: resolve working directory: %w", err)
	}

	configPath := os.Getenv("OPENCODE_SANDBOX_CONFIG_FILE")
	if configPath == "" {
		configPath = filepath.Join(projectRoot, ".sandbox", "router.jsonc")
	}
	cfg := config.Load(configPath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opencode-sandbox: %w", err)
	}

	logging.Init(logging.Config{LogDir: filepath.Join(projectRoot, ".sandbox"), Debug: os.Getenv("OPENCODE_SANDBOX_DEBUG") != ""})

	// The project root itself is the stable project identity: it sanitises
	// and truncates the same way a UUID would, and two checkouts of the
	// same repo at different paths are meant to route to different
	// sandboxes, so the path is the correct unit of identity here.
	projectID := projectRoot

	resolver := scope.New(scopePolicy(cfg), nil)
	store := routing.Open(cfg.StateFile)
	lc := lifecycle.New()

	namePrefix := cfg.ContainerConfig.NamePrefix
	op := operator.New(resolver, store, lc, projectID, projectRoot, namePrefix)
	h := hook.New(cfg, resolver, store, lc, projectID, projectRoot)

	configLog := logging.ForComponent(logging.CompConfig)
	watcher, err := config.WatchFile(configPath, func() {
		configLog.Warn("config_file_changed_restart_required", "path", configPath)
	})
	if err != nil {
		// Not fatal: the watcher is a diagnostic convenience, and a missing
		// config file (nothing to watch yet) is a common, harmless case.
		configLog.Warn("config_watch_start_failed", "path", configPath, "error", err.Error())
	}

	return &runtime{
		cfg:         cfg,
		projectRoot: projectRoot,
		projectID:   projectID,
		resolver:    resolver,
		store:       store,
		lifecycle:   lc,
		op:          op,
		hook:        h,
		watcher:     watcher,
	}, nil
}

// Close releases resources newRuntime started for the lifetime of one CLI
// invocation (currently just the config file watcher goroutine).
func (rt *runtime) Close() {
	if rt.watcher != nil {
		rt.watcher.Close()
	}
}

func scopePolicy(cfg config.Config) scope.Policy {
	if cfg.Routing.Scope == config.ScopeSession {
		return scope.PolicySession
	}
	return scope.PolicyRoot
}

// sessionID resolves the calling session's identity for CLI invocations,
// which have no agent framework behind them: an explicit --session flag (if
// the caller passed one) wins, falling back to OPENCODE_SESSION_ID so a
// wrapping script can pin one session across several commands.
func sessionID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("OPENCODE_SESSION_ID")
}

// colorMode resolves cliui's color mode from the user's saved preferences,
// overridable per-invocation with --color.
func colorMode(override string) cliui.ColorMode {
	if override != "" {
		return cliui.ColorMode(override)
	}
	p, err := prefs.Load()
	if err != nil {
		return cliui.ColorAuto
	}
	return cliui.ColorMode(p.Color)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
