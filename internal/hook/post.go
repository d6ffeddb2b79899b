package hook

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/falleco/opencode-sandbox/internal/cmdbuild"
	"github.com/falleco/opencode-sandbox/internal/docker"
	"github.com/falleco/opencode-sandbox/internal/pathmap"
)

// PostExecute consumes the PendingCall staged for call.CallID, if any, and
// reconciles output with the container. Read/list/grep/glob calls have
// their output overwritten with the container-side result; write/edit calls
// push the host-written file into the container. A call with no staged
// PendingCall (never routed, or already consumed) is left untouched.
func (h *Hook) PostExecute(ctx context.Context, call Call, out *Output) {
	pc, ok := h.pending.consume(call.CallID)
	if !ok {
		return
	}

	switch pc.Kind {
	case KindRead:
		h.runReadLike(ctx, out, pc.Container, cmdbuild.Read(pc.ContainerPath))

	case KindList:
		h.runReadLike(ctx, out, pc.Container, cmdbuild.List(pc.ContainerPath, cmdbuild.DefaultListLimit))

	case KindGrep:
		raw, err := h.exec(ctx, pc.Container, cmdbuild.Grep(pc.Pattern, pc.Include))
		if !grepExitOK(err) {
			h.log.Warn("grep_exec_failed", "container", pc.Container, "pattern", pc.Pattern, "error", err.Error())
			return
		}
		out.Output = h.remapGrepOutput(raw, pc.HostRoot, pc.ContainerRoot)

	case KindGlob:
		raw, err := h.exec(ctx, pc.Container, cmdbuild.Glob(pc.Pattern, cmdbuild.DefaultGlobLimit))
		if err != nil {
			h.log.Warn("glob_exec_failed", "container", pc.Container, "pattern", pc.Pattern, "error", err.Error())
			return
		}
		out.Output = h.remapLines(raw, pc.HostRoot, pc.ContainerRoot)

	case KindWrite, KindEdit:
		if err := docker.PushToContainer(ctx, h.cfg.RuntimeBinary, pc.Container, pc.HostPath, pc.ContainerPath); err != nil {
			h.log.Warn("push_to_container_failed", "container", pc.Container, "path", pc.HostPath, "error", err.Error())
		}
	}
}

func (h *Hook) runReadLike(ctx context.Context, out *Output, container, command string) {
	raw, err := h.exec(ctx, container, command)
	if err != nil {
		h.log.Warn("read_like_exec_failed", "container", container, "error", err.Error())
		return
	}
	out.Output = raw
}

// exec runs command inside container via the configured runtime binary and
// returns captured stdout, even when command exits nonzero (cmd.Output
// still populates stdout up to that point; callers that care about the
// distinction, like the grep branch above, inspect err themselves). Unlike
// cmdbuild.Exec (which builds a string the agent's own shell tool later
// re-executes), this runs the container-side command directly so the
// post-hook can capture its output synchronously.
func (h *Hook) exec(ctx context.Context, container, command string) (string, error) {
	cmd := exec.CommandContext(ctx, h.cfg.RuntimeBinary, "exec", container, "sh", "-lc", command)
	out, err := cmd.Output()
	return string(out), err
}

// grepExitOK reports whether err represents ripgrep's own exit status for
// "ran fine, zero matches" (0 or 1) rather than a genuine failure (2+, or a
// non-ExitError such as the binary/runtime itself failing to start).
func grepExitOK(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return code == 0 || code == 1
	}
	return false
}

// remapGrepOutput rewrites each "path|line|text" line's path field from its
// container-side value back to the host path the agent expects.
func (h *Hook) remapGrepOutput(raw, hostRoot, containerRoot string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 2 {
			continue
		}
		parts[0] = pathmap.ContainerToHost(parts[0], hostRoot, containerRoot)
		lines[i] = strings.Join(parts, "|")
	}
	return strings.Join(lines, "\n")
}

// remapLines rewrites every non-empty line of raw from a container path to
// its host equivalent, used for glob's one-path-per-line output.
func (h *Hook) remapLines(raw, hostRoot, containerRoot string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = pathmap.ContainerToHost(line, hostRoot, containerRoot)
	}
	return strings.Join(lines, "\n")
}
