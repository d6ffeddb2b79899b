// Package hook implements the pre- and post-execution hooks: the dispatch
// brain that decides, per tool call, whether to route it into a container
// and how to reconcile the result afterward.
package hook

import (
	"context"
	"log/slog"

	"github.com/falleco/opencode-sandbox/internal/cmdbuild"
	"github.com/falleco/opencode-sandbox/internal/config"
	"github.com/falleco/opencode-sandbox/internal/containername"
	"github.com/falleco/opencode-sandbox/internal/lifecycle"
	"github.com/falleco/opencode-sandbox/internal/logging"
	"github.com/falleco/opencode-sandbox/internal/pathmap"
	"github.com/falleco/opencode-sandbox/internal/routing"
	"github.com/falleco/opencode-sandbox/internal/scope"
)

// ensureRunner is the subset of *lifecycle.Manager the hook depends on,
// narrowed to an interface so tests can substitute a fake without a real
// docker daemon.
type ensureRunner interface {
	EnsureRunning(ctx context.Context, spec lifecycle.Spec, allowCreate bool) (lifecycle.Result, error)
}

// Hook ties together scope resolution, routing state, and container
// lifecycle to intercept tool calls before and after execution.
type Hook struct {
	cfg       config.Config
	resolver  *scope.Resolver
	store     *routing.Store
	lifecycle ensureRunner

	projectID   string
	projectRoot string

	pending *pendingStore

	log *slog.Logger
}

// New builds a Hook. projectID identifies the project for label-based
// container filtering; projectRoot is the host directory bind-mounted into
// every container this hook creates.
func New(cfg config.Config, resolver *scope.Resolver, store *routing.Store, lc *lifecycle.Manager, projectID, projectRoot string) *Hook {
	return &Hook{
		cfg:         cfg,
		resolver:    resolver,
		store:       store,
		lifecycle:   lc,
		projectID:   projectID,
		projectRoot: projectRoot,
		pending:     newPendingStore(),
		log:         logging.ForComponent(logging.CompHook),
	}
}

// newWithRunner builds a Hook against an arbitrary ensureRunner, used by
// tests to substitute a fake lifecycle manager.
func newWithRunner(cfg config.Config, resolver *scope.Resolver, store *routing.Store, runner ensureRunner, projectID, projectRoot string) *Hook {
	return &Hook{
		cfg:         cfg,
		resolver:    resolver,
		store:       store,
		lifecycle:   runner,
		projectID:   projectID,
		projectRoot: projectRoot,
		pending:     newPendingStore(),
		log:         logging.ForComponent(logging.CompHook),
	}
}

// containerRoot returns the configured in-container workdir, defaulting to
// /workspace.
func (h *Hook) containerRoot() string {
	if h.cfg.ContainerConfig.Workdir != "" {
		return h.cfg.ContainerConfig.Workdir
	}
	return "/workspace"
}

func (h *Hook) hostRoot() string {
	if h.cfg.ContainerConfig.ProjectPathOverride != "" {
		return h.cfg.ContainerConfig.ProjectPathOverride
	}
	return h.projectRoot
}

// PendingCount reports how many calls this hook currently has staged
// awaiting their post-hook, for diagnosing a leaked PendingCall (see
// pendingStore.Count).
func (h *Hook) PendingCount() int {
	return h.pending.Count()
}

// PreExecute mutates args in place (or stages a PendingCall). It never
// returns an error to the caller: every failure mode is logged and
// resolved to either a no-op or a rewritten failure command.
func (h *Hook) PreExecute(ctx context.Context, call Call, args *Args) {
	if !h.cfg.Enabled || !h.cfg.Intercepts(call.Tool) || call.SessionID == "" {
		return
	}

	if !h.preconditionOK(call.Tool, args) {
		return
	}

	scopeID, err := h.resolver.Resolve(ctx, call.SessionID)
	if err != nil {
		h.log.Warn("scope_resolve_failed", "session", call.SessionID, "error", err.Error())
		return
	}

	name, synthesized := h.resolveContainerName(scopeID)
	if name == "" {
		h.log.Info("no_container_resolved", "scope", scopeID)
		return
	}

	result, err := h.lifecycle.EnsureRunning(ctx, h.buildSpec(name, scopeID), h.cfg.ContainerConfig.AutoCreate)
	if err != nil {
		h.log.Warn("ensure_running_failed", "container", name, "error", err.Error())
		if h.cfg.Routing.FallbackToHost {
			return
		}
		if call.Tool == "shell" {
			args.Command = cmdbuild.FailureCommand(err.Error())
		}
		return
	}
	_ = result

	if synthesized {
		if err := h.store.Set(scopeID, name); err != nil {
			h.log.Warn("routing_state_persist_failed", "scope", scopeID, "error", err.Error())
		}
	}

	h.dispatch(call, args, name)
}

// preconditionOK checks the per-tool-family preconditions. It runs before
// any scope/container resolution so that invalid or out-of-project calls
// never cause a container to be created.
func (h *Hook) preconditionOK(tool string, args *Args) bool {
	switch tool {
	case "shell":
		return args.Command != "" && !h.cfg.HasBypassPrefix(args.Command)
	case "read":
		return args.FilePath != "" && pathmap.IsWithin(args.FilePath, h.hostRoot())
	case "write", "edit":
		p := args.pathArg()
		return p != "" && pathmap.IsWithin(p, h.hostRoot())
	case "grep":
		if args.Pattern == "" {
			return false
		}
		if args.Path == "" {
			return true
		}
		return pathmap.IsWithin(args.Path, h.hostRoot())
	case "glob":
		if args.Pattern == "" {
			return false
		}
		return args.Path == "" || pathmap.IsWithin(args.Path, h.hostRoot())
	case "list":
		p := args.Path
		if p == "" {
			return true
		}
		return pathmap.IsWithin(p, h.hostRoot())
	default:
		return false
	}
}

// resolveContainerName implements the three-tier lookup: a pinned
// container name wins, then an existing routing-state binding, then a
// freshly synthesized name if auto-create is enabled.
func (h *Hook) resolveContainerName(scopeID string) (name string, synthesized bool) {
	if h.cfg.ContainerConfig.Name != "" {
		return h.cfg.ContainerConfig.Name, false
	}
	if bound, ok := h.store.Get(scopeID); ok {
		return bound, false
	}
	if h.cfg.ContainerConfig.AutoCreate {
		return containername.BuildName(h.cfg.ContainerConfig.NamePrefix, h.projectID, scopeID), true
	}
	return "", false
}

func (h *Hook) buildSpec(name, scopeID string) lifecycle.Spec {
	return lifecycle.Spec{
		Name:        name,
		ProjectID:   h.projectID,
		ScopeID:     scopeID,
		Image:       h.cfg.ContainerConfig.Image,
		Workdir:     h.containerRoot(),
		ProjectPath: h.hostRoot(),
		Network:     h.cfg.ContainerConfig.Network,
		Env:         h.cfg.ContainerConfig.Env,
		Mounts:      parseMounts(h.cfg.ContainerConfig.Mounts),
		Command:     h.cfg.ContainerConfig.Command,
		AutoStart:   h.cfg.ContainerConfig.AutoStart,
	}
}

func parseMounts(specs []string) map[string]string {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		host, container, ok := splitMount(s)
		if ok {
			out[host] = container
		}
	}
	return out
}

func splitMount(s string) (host, container string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// dispatch rewrites args or stages a PendingCall for the named, now-running
// container, per tool family.
func (h *Hook) dispatch(call Call, args *Args, container string) {
	hostRoot, containerRoot := h.hostRoot(), h.containerRoot()

	switch call.Tool {
	case "shell":
		workdir := pathmap.HostToContainer(args.Cwd, hostRoot, containerRoot)
		args.Command = cmdbuild.Exec(h.cfg.RuntimeBinary, container, args.Command, workdir, args.Env)

	case "read":
		containerPath := pathmap.HostToContainer(args.FilePath, hostRoot, containerRoot)
		h.pending.stage(call.CallID, PendingCall{
			Kind: KindRead, Container: container,
			HostPath: args.FilePath, ContainerPath: containerPath,
		})

	case "write", "edit":
		hostPath := args.pathArg()
		containerPath := pathmap.HostToContainer(hostPath, hostRoot, containerRoot)
		kind := KindWrite
		if call.Tool == "edit" {
			kind = KindEdit
		}
		h.pending.stage(call.CallID, PendingCall{
			Kind: kind, Container: container,
			HostPath: hostPath, ContainerPath: containerPath,
		})

	case "grep":
		root := args.Path
		if root == "" {
			root = hostRoot
		}
		cRoot := pathmap.HostToContainer(root, hostRoot, containerRoot)
		h.pending.stage(call.CallID, PendingCall{
			Kind: KindGrep, Container: container,
			HostRoot: root, ContainerRoot: cRoot,
			Pattern: args.Pattern, Include: args.Include,
		})

	case "glob":
		root := args.Path
		if root == "" {
			root = hostRoot
		}
		cRoot := pathmap.HostToContainer(root, hostRoot, containerRoot)
		h.pending.stage(call.CallID, PendingCall{
			Kind: KindGlob, Container: container,
			HostRoot: root, ContainerRoot: cRoot,
			Pattern: args.Pattern,
		})

	case "list":
		root := args.Path
		if root == "" {
			root = hostRoot
		}
		cPath := pathmap.HostToContainer(root, hostRoot, containerRoot)
		h.pending.stage(call.CallID, PendingCall{
			Kind: KindList, Container: container,
			HostPath: root, ContainerPath: cPath,
		})
	}
}
