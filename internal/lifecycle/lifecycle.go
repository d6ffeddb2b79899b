// Package lifecycle implements ensure-running: inspect a container's state,
// create it if absent and allowed, start it if stopped and allowed. It is
// the only component that combines internal/docker's runtime driver with
// label-based ownership tagging.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/falleco/opencode-sandbox/internal/docker"
	"github.com/falleco/opencode-sandbox/internal/logging"
)

// State is the tri-state outcome of inspecting a container.
type State string

const (
	StateAbsent  State = "absent"
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Spec describes the container ensureRunning should converge on.
type Spec struct {
	Name        string
	ProjectID   string
	ScopeID     string
	Image       string
	Workdir     string
	ProjectPath string
	Network     string
	Env         map[string]string
	// Mounts are extra host:container bind mounts beyond the project mount.
	Mounts    map[string]string
	Command   []string
	AutoStart bool

	// CPULimit and MemoryLimit cap a newly created container's resources
	// (e.g. "2.0" CPUs, "4g" memory). Empty means no limit.
	CPULimit    string
	MemoryLimit string

	// WorktreeRepoRoot and WorktreeRelativePath, when RepoRoot is set,
	// mount the full repository instead of ProjectPath and set the
	// in-container workdir to the worktree subdirectory.
	WorktreeRepoRoot     string
	WorktreeRelativePath string

	// MountAgentConfigs bind-mounts the calling user's agent tool configs
	// (~/.claude, ~/.codex, ~/.gemini, ~/.local/share/opencode) into a
	// freshly created container so the rerouted agent keeps its
	// credentials and skills once its tool calls land inside the sandbox.
	MountAgentConfigs bool
}

// Result reports what EnsureRunning found or did.
type Result struct {
	Name    string
	State   State
	Created bool
	Started bool
}

// ensureLimiterRate bounds how often EnsureRunning will actually touch the
// runtime for the same container name: calls beyond the burst wait for a
// token. Every call that proceeds still inspects the container; no verdict
// is cached between calls.
const ensureLimiterRate = rate.Limit(2) // 2/sec sustained
const ensureLimiterBurst = 4

// Manager owns the per-container rate limiters that throttle repeated
// ensure-running calls.
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	log      *slog.Logger
}

// New builds a Manager.
func New() *Manager {
	return &Manager{
		limiters: make(map[string]*rate.Limiter),
		log:      logging.ForComponent(logging.CompLifecycle),
	}
}

func (m *Manager) limiterFor(name string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[name]
	if !ok {
		l = rate.NewLimiter(ensureLimiterRate, ensureLimiterBurst)
		m.limiters[name] = l
	}
	return l
}

// EnsureRunning converges the named container to running, subject to
// allowCreate.
func (m *Manager) EnsureRunning(ctx context.Context, spec Spec, allowCreate bool) (Result, error) {
	if spec.Name == "" {
		return Result{}, fmt.Errorf("lifecycle: empty container name")
	}

	if err := docker.CheckAvailability(ctx); err != nil {
		return Result{}, fmt.Errorf("lifecycle: %w", err)
	}

	limiter := m.limiterFor(spec.Name)
	if err := limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("lifecycle: rate limit wait: %w", err)
	}

	c := docker.NewContainer(spec.Name, spec.Image)

	exists, err := c.Exists(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: inspect %s: %w", spec.Name, err)
	}

	if !exists {
		if !allowCreate {
			return Result{}, fmt.Errorf("container %s does not exist", spec.Name)
		}
		return m.create(ctx, c, spec)
	}

	running, err := c.IsRunning(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: inspect running state of %s: %w", spec.Name, err)
	}
	if running {
		return Result{Name: spec.Name, State: StateRunning}, nil
	}

	if !spec.AutoStart {
		m.log.Info("container_stopped_autostart_disabled", "name", spec.Name)
		return Result{Name: spec.Name, State: StateStopped}, nil
	}

	if err := c.Start(ctx); err != nil {
		return Result{}, fmt.Errorf("lifecycle: start %s: %w", spec.Name, err)
	}
	return Result{Name: spec.Name, State: StateRunning, Started: true}, nil
}

func (m *Manager) create(ctx context.Context, c *docker.Container, spec Spec) (Result, error) {
	if spec.ProjectPath == "" {
		return Result{}, fmt.Errorf("lifecycle: cannot create %s: no project path", spec.Name)
	}
	if _, err := os.Stat(spec.ProjectPath); err != nil {
		return Result{}, fmt.Errorf("lifecycle: project path %s: %w", spec.ProjectPath, err)
	}

	opts := []docker.ContainerConfigOption{
		docker.WithWorkdir(spec.Workdir),
		docker.WithNetwork(spec.Network),
		docker.WithEnvironment(spec.Env),
		docker.WithExtraVolumes(spec.Mounts),
		docker.WithCommand(spec.Command),
		docker.WithCPULimit(spec.CPULimit),
		docker.WithMemoryLimit(spec.MemoryLimit),
	}
	if spec.MountAgentConfigs {
		if home, err := os.UserHomeDir(); err == nil {
			bindMounts, homeMounts := docker.RefreshAgentConfigs(home, "")
			opts = append(opts, docker.WithAgentConfigs(bindMounts, homeMounts))
		} else {
			m.log.Warn("agent_config_mount_skipped", "name", spec.Name, "error", err.Error())
		}
	}

	cfg := docker.NewContainerConfig(spec.ProjectPath, opts...)
	if spec.WorktreeRepoRoot != "" {
		docker.WithWorktree(spec.WorktreeRepoRoot, spec.WorktreeRelativePath)(cfg)
	}

	labels := c.Labels(spec.ProjectID, spec.ScopeID)
	if _, err := c.Create(ctx, cfg, labels); err != nil {
		return Result{}, fmt.Errorf("lifecycle: create %s: %w", spec.Name, err)
	}

	if err := c.Start(ctx); err != nil {
		return Result{}, fmt.Errorf("lifecycle: start newly created %s: %w", spec.Name, err)
	}

	m.log.Info("container_created", "name", spec.Name, "project", spec.ProjectID, "scope", spec.ScopeID)
	return Result{Name: spec.Name, State: StateRunning, Created: true, Started: true}, nil
}
