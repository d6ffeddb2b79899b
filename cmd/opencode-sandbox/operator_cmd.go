package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/falleco/opencode-sandbox/internal/cliui"
	"github.com/falleco/opencode-sandbox/internal/docker"
	"github.com/falleco/opencode-sandbox/internal/operator"
)

func handleCreate(rt *runtime, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "container name (default: derived from session scope)")
	image := fs.String("image", "", "image to run (default: config container.image)")
	workdir := fs.String("workdir", "", "in-container workdir (default: /workspace)")
	projectPath := fs.String("project-path", "", "host path to mount (default: project root)")
	network := fs.String("network", "", "docker network to attach")
	cpuLimit := fs.String("cpu", "", `CPU quota, e.g. "2.0"`)
	memLimit := fs.String("memory", "", `memory cap, e.g. "4g"`)
	session := fs.String("session", "", "session id (default: $OPENCODE_SESSION_ID)")
	agentConfigs := fs.Bool("agent-configs", false, "bind-mount ~/.claude, ~/.codex, ~/.gemini, ~/.local/share/opencode")
	worktreeRepo := fs.String("worktree-repo", "", "git repo root, if project-path is a worktree subdirectory")
	worktreeRel := fs.String("worktree-rel", "", "worktree path relative to --worktree-repo")
	var envPairs, mountPairs repeatedFlag
	fs.Var(&envPairs, "env", "KEY=VALUE environment variable (repeatable)")
	fs.Var(&mountPairs, "mount", "host:container bind mount (repeatable)")
	fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() > 0 && *name == "" {
		*name = fs.Arg(0)
	}
	if *image == "" {
		*image = rt.cfg.ContainerConfig.Image
	}

	var mounts map[string]string
	for _, m := range mountPairs.values {
		host, container, ok := strings.Cut(m, ":")
		if !ok || host == "" || container == "" {
			continue
		}
		if mounts == nil {
			mounts = make(map[string]string)
		}
		mounts[host] = container
	}

	req := operator.CreateRequest{
		Name:                 *name,
		Image:                *image,
		Workdir:              *workdir,
		ProjectPath:          *projectPath,
		Network:              *network,
		Env:                  parseKV(envPairs.values),
		Mounts:               mounts,
		CPULimit:             *cpuLimit,
		MemoryLimit:          *memLimit,
		MountAgentConfigs:    *agentConfigs,
		WorktreeRepoRoot:     *worktreeRepo,
		WorktreeRelativePath: *worktreeRel,
	}

	msg, err := rt.op.Create(context.Background(), sessionID(*session), req)
	if err != nil {
		exitErr(err)
	}
	fmt.Println(msg)
}

func handleUse(rt *runtime, args []string) {
	fs := flag.NewFlagSet("use", flag.ExitOnError)
	session := fs.String("session", "", "session id (default: $OPENCODE_SESSION_ID)")
	fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: opencode-sandbox use <container-name>")
		os.Exit(1)
	}

	msg, err := rt.op.Use(context.Background(), sessionID(*session), fs.Arg(0))
	if err != nil {
		exitErr(err)
	}
	fmt.Println(msg)
}

func handleClear(rt *runtime, args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	stop := fs.Bool("stop", false, "also stop the bound container")
	remove := fs.Bool("remove", false, "also remove the bound container")
	session := fs.String("session", "", "session id (default: $OPENCODE_SESSION_ID)")
	fs.Parse(normalizeArgs(fs, args))

	msg, err := rt.op.Clear(context.Background(), sessionID(*session), *stop, *remove)
	if err != nil {
		exitErr(err)
	}
	fmt.Println(msg)
}

func handleInfo(rt *runtime, args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	session := fs.String("session", "", "session id (default: $OPENCODE_SESSION_ID)")
	color := fs.String("color", "", "auto|always|never (default: saved preference)")
	plain := fs.Bool("plain", false, "print the raw agent-facing string instead of the styled view")
	fs.Parse(normalizeArgs(fs, args))

	sid := sessionID(*session)

	if *plain {
		msg, err := rt.op.Info(context.Background(), sid)
		if err != nil {
			exitErr(err)
		}
		fmt.Println(msg)
		return
	}

	view, err := infoView(rt, sid)
	if err != nil {
		exitErr(err)
	}
	fmt.Println(cliui.FormatInfo(view, colorMode(*color)))
}

// infoView assembles cliui's richer Info struct for terminal rendering,
// reading the routing entry directly so the binding's age is available —
// something Operator.Info's plain agent-facing string deliberately omits.
func infoView(rt *runtime, sid string) (cliui.Info, error) {
	if sid == "" {
		return cliui.Info{Bound: false}, nil
	}
	scopeID, err := rt.resolver.Resolve(context.Background(), sid)
	if err != nil {
		return cliui.Info{}, err
	}
	if scopeID == "" {
		return cliui.Info{Bound: false}, nil
	}

	entry, ok := rt.store.GetEntry(scopeID)
	if !ok {
		return cliui.Info{Bound: false}, nil
	}

	c := docker.FromName(entry.Container)
	state := "missing"
	exists, err := c.Exists(context.Background())
	if err != nil {
		return cliui.Info{}, err
	}
	if exists {
		running, err := c.IsRunning(context.Background())
		if err != nil {
			return cliui.Info{}, err
		}
		if running {
			state = "running"
		} else {
			state = "stopped"
		}
	}

	return cliui.Info{
		Bound:     true,
		Container: entry.Container,
		State:     state,
		BoundAt:   time.UnixMilli(entry.UpdatedAt),
	}, nil
}

func handleList(rt *runtime, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "include stopped containers")
	color := fs.String("color", "", "auto|always|never (default: saved preference)")
	plain := fs.Bool("plain", false, "print the raw agent-facing string instead of the styled table")
	fs.Parse(normalizeArgs(fs, args))

	if *plain {
		msg, err := rt.op.List(context.Background(), *all)
		if err != nil {
			exitErr(err)
		}
		fmt.Println(msg)
		return
	}

	statuses, err := docker.ListByProject(context.Background(), rt.projectID, *all)
	if err != nil {
		exitErr(err)
	}

	rows := make([]cliui.Row, len(statuses))
	for i, s := range statuses {
		rows[i] = cliui.Row{Name: s.Name, Status: s.Status}
	}
	fmt.Println(cliui.FormatList(rows, colorMode(*color)))
}
