// Package operator implements the five agent-callable container-management
// tools: create, use, clear, info, list. Each returns a plain,
// agent-consumable string; terminal formatting is layered on top by cliui.
package operator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/falleco/opencode-sandbox/internal/containername"
	"github.com/falleco/opencode-sandbox/internal/docker"
	"github.com/falleco/opencode-sandbox/internal/lifecycle"
	"github.com/falleco/opencode-sandbox/internal/routing"
	"github.com/falleco/opencode-sandbox/internal/scope"
)

// ensureRunner is the lifecycle dependency, narrowed for testability.
type ensureRunner interface {
	EnsureRunning(ctx context.Context, spec lifecycle.Spec, allowCreate bool) (lifecycle.Result, error)
}

// Operator wires scope resolution, routing state, and container lifecycle
// into the five operator tools.
type Operator struct {
	resolver  *scope.Resolver
	store     *routing.Store
	lifecycle ensureRunner

	projectID   string
	projectRoot string
	namePrefix  string
}

// New builds an Operator.
func New(resolver *scope.Resolver, store *routing.Store, lc *lifecycle.Manager, projectID, projectRoot, namePrefix string) *Operator {
	return &Operator{
		resolver:    resolver,
		store:       store,
		lifecycle:   lc,
		projectID:   projectID,
		projectRoot: projectRoot,
		namePrefix:  namePrefix,
	}
}

// CreateRequest holds create's optional parameters.
type CreateRequest struct {
	Name        string
	Image       string
	Workdir     string
	ProjectPath string
	Network     string
	Mounts      map[string]string
	Command     []string
	Env         map[string]string

	CPULimit    string
	MemoryLimit string

	WorktreeRepoRoot     string
	WorktreeRelativePath string

	MountAgentConfigs bool
}

// Create resolves (or synthesizes) a container name, ensures it is running,
// and persists the binding for the calling session's scope.
func (o *Operator) Create(ctx context.Context, sessionID string, req CreateRequest) (string, error) {
	scopeID, err := o.scopeOf(ctx, sessionID)
	if err != nil {
		return "", err
	}

	name := req.Name
	if name == "" {
		if scopeID == "" {
			return "", fmt.Errorf("operator: create requires a name when no session is available")
		}
		name = containername.BuildName(o.namePrefix, o.projectID, scopeID)
	}

	projectPath := req.ProjectPath
	if projectPath == "" {
		projectPath = o.projectRoot
	}
	workdir := req.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}

	spec := lifecycle.Spec{
		Name:        name,
		ProjectID:   o.projectID,
		ScopeID:     scopeID,
		Image:       req.Image,
		Workdir:     workdir,
		ProjectPath: projectPath,
		Network:     req.Network,
		Env:         req.Env,
		Mounts:      req.Mounts,
		Command:     req.Command,
		AutoStart:   true,

		CPULimit:    req.CPULimit,
		MemoryLimit: req.MemoryLimit,

		WorktreeRepoRoot:     req.WorktreeRepoRoot,
		WorktreeRelativePath: req.WorktreeRelativePath,

		MountAgentConfigs: req.MountAgentConfigs,
	}

	result, err := o.lifecycle.EnsureRunning(ctx, spec, true)
	if err != nil {
		return "", fmt.Errorf("operator: create %s: %w", name, err)
	}

	if scopeID != "" {
		if err := o.store.Set(scopeID, name); err != nil {
			return "", fmt.Errorf("operator: persist binding for %s: %w", name, err)
		}
	}

	verb := "using existing"
	if result.Created {
		verb = "created"
	}
	return fmt.Sprintf("%s container %q (%s)", verb, name, result.State), nil
}

// Use binds the calling session's scope to an existing, named container.
func (o *Operator) Use(ctx context.Context, sessionID, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("operator: use requires a container name")
	}
	scopeID, err := o.scopeOf(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if scopeID == "" {
		return "", fmt.Errorf("operator: use requires a session")
	}

	c := docker.FromName(name)
	exists, err := c.Exists(ctx)
	if err != nil {
		return "", fmt.Errorf("operator: inspect %s: %w", name, err)
	}
	if !exists {
		return "", fmt.Errorf("operator: container %q does not exist", name)
	}

	if err := o.store.Set(scopeID, name); err != nil {
		return "", fmt.Errorf("operator: persist binding for %s: %w", name, err)
	}
	return fmt.Sprintf("now using container %q", name), nil
}

// Clear removes the calling scope's binding, optionally stopping or
// removing the container itself.
func (o *Operator) Clear(ctx context.Context, sessionID string, stop, remove bool) (string, error) {
	scopeID, err := o.scopeOf(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if scopeID == "" {
		return "", fmt.Errorf("operator: clear requires a session")
	}

	name, err := o.store.Clear(scopeID)
	if err != nil {
		return "", fmt.Errorf("operator: clear binding: %w", err)
	}
	if name == "" {
		return "no container was bound to this session", nil
	}

	c := docker.FromName(name)
	switch {
	case remove:
		if err := c.Remove(ctx, true); err != nil {
			return "", fmt.Errorf("operator: remove %s: %w", name, err)
		}
		return fmt.Sprintf("cleared and removed container %q", name), nil
	case stop:
		if err := c.Stop(ctx); err != nil {
			return "", fmt.Errorf("operator: stop %s: %w", name, err)
		}
		return fmt.Sprintf("cleared and stopped container %q", name), nil
	default:
		return fmt.Sprintf("cleared binding to container %q", name), nil
	}
}

// Info reports the container bound to the calling scope and its runtime
// state.
func (o *Operator) Info(ctx context.Context, sessionID string) (string, error) {
	scopeID, err := o.scopeOf(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if scopeID == "" {
		return "no session available", nil
	}

	name, ok := o.store.Get(scopeID)
	if !ok {
		return "no container bound to this session", nil
	}

	c := docker.FromName(name)
	state := "missing"
	exists, err := c.Exists(ctx)
	if err != nil {
		return "", fmt.Errorf("operator: inspect %s: %w", name, err)
	}
	if exists {
		running, err := c.IsRunning(ctx)
		if err != nil {
			return "", fmt.Errorf("operator: inspect running state of %s: %w", name, err)
		}
		if running {
			state = "running"
		} else {
			state = "stopped"
		}
	}
	return fmt.Sprintf("container %q is %s", name, state), nil
}

// List lists every container owned by this project, optionally including
// stopped ones.
func (o *Operator) List(ctx context.Context, all bool) (string, error) {
	statuses, err := docker.ListByProject(ctx, o.projectID, all)
	if err != nil {
		return "", fmt.Errorf("operator: list containers: %w", err)
	}
	if len(statuses) == 0 {
		return "no containers found for this project", nil
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	var b strings.Builder
	for i, s := range statuses {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Name)
		b.WriteString("\t")
		b.WriteString(s.Status)
	}
	return b.String(), nil
}

func (o *Operator) scopeOf(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	return o.resolver.Resolve(ctx, sessionID)
}
