package hook

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falleco/opencode-sandbox/internal/config"
	"github.com/falleco/opencode-sandbox/internal/lifecycle"
	"github.com/falleco/opencode-sandbox/internal/routing"
	"github.com/falleco/opencode-sandbox/internal/scope"
)

// stubRunner is a fake ensureRunner for tests that don't need a real docker
// daemon.
type stubRunner struct {
	result lifecycle.Result
	err    error
	calls  []lifecycle.Spec
}

func (s *stubRunner) EnsureRunning(_ context.Context, spec lifecycle.Spec, _ bool) (lifecycle.Result, error) {
	s.calls = append(s.calls, spec)
	return s.result, s.err
}

func noParentLookup(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func scenario1Config() config.Config {
	return config.Config{
		Enabled:        true,
		ToolNames:      []string{"shell"},
		RuntimeBinary:  "docker",
		BypassPrefixes: []string{"docker "},
		Routing: config.Routing{
			Scope: config.ScopeRoot,
		},
		ContainerConfig: config.Container{
			NamePrefix: "oc",
			Image:      "img:1",
			Workdir:    "/workspace",
			AutoCreate: true,
			AutoStart:  true,
		},
	}
}

func newTestHook(t *testing.T, cfg config.Config, runner ensureRunner, projectID, projectRoot string) (*Hook, *routing.Store) {
	t.Helper()
	store := routing.Open(filepath.Join(t.TempDir(), "state.json"))
	resolver := scope.New(scope.Policy(cfg.Routing.Scope), noParentLookup)
	return newWithRunner(cfg, resolver, store, runner, projectID, projectRoot), store
}

// Scenario 1: intercept shell in root scope, auto-create.
func TestScenario1InterceptShellAutoCreate(t *testing.T) {
	cfg := scenario1Config()
	runner := &stubRunner{result: lifecycle.Result{Created: true, Started: true}}
	h, store := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Command: "ls && pwd", Cwd: "/home/u/p/sub"}
	h.PreExecute(context.Background(), Call{Tool: "shell", SessionID: "sess-ROOT-xyz", CallID: "c0"}, args)

	require.Equal(t, `docker exec -i --workdir "/workspace/sub" "oc-abcdef12-sess" sh -lc "ls && pwd"`, args.Command)

	bound, ok := store.Get("sess-ROOT-xyz")
	require.True(t, ok)
	assert.Equal(t, "oc-abcdef12-sess", bound)
}

// Scenario 2: bypass prefix.
func TestScenario2BypassPrefix(t *testing.T) {
	cfg := scenario1Config()
	runner := &stubRunner{result: lifecycle.Result{Created: true, Started: true}}
	h, store := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Command: "docker ps"}
	h.PreExecute(context.Background(), Call{Tool: "shell", SessionID: "sess-ROOT-xyz", CallID: "c0"}, args)

	assert.Equal(t, "docker ps", args.Command)
	_, ok := store.Get("sess-ROOT-xyz")
	assert.False(t, ok)
	assert.Empty(t, runner.calls)
}

// Scenario 3: read round-trip, simulated via a fake runtime binary script
// that maps container paths onto a real temp directory.
func TestScenario3ReadRoundTrip(t *testing.T) {
	simRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(simRoot, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(simRoot, "src", "x.ts"), []byte("AB\n"), 0o644))
	fakeBin := writeFakeRuntime(t, simRoot)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"read"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{FilePath: "/home/u/p/src/x.ts"}
	h.PreExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c1"}, args)

	out := &Output{}
	h.PostExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c1"}, out)

	assert.Equal(t, "AB\n", out.Output)
}

// Scenario 4: grep output remapping, exercised directly on the pure remap
// helper with the literal spec example.
func TestScenario4GrepRemapsRelativePaths(t *testing.T) {
	h := &Hook{}
	raw := "src/a.ts|42|  TODO: foo\nsrc/b.ts|7| TODO: bar"
	got := h.remapGrepOutput(raw, "/home/u/p", "/workspace")
	want := "/home/u/p/src/a.ts|42|  TODO: foo\n/home/u/p/src/b.ts|7| TODO: bar"
	assert.Equal(t, want, got)
}

// Scenario 5: write sync pushes the host-written file into the container.
func TestScenario5WriteSync(t *testing.T) {
	simRoot := t.TempDir()
	fakeBin := writeFakeRuntime(t, simRoot)

	hostDir := t.TempDir()
	hostPath := filepath.Join(hostDir, "new.ts")
	require.NoError(t, os.WriteFile(hostPath, []byte("const x = 1;\n"), 0o644))

	cfg := scenario1Config()
	cfg.ToolNames = []string{"write"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"
	cfg.ContainerConfig.ProjectPathOverride = hostDir

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", hostDir)

	args := &Args{FilePath: hostPath}
	h.PreExecute(context.Background(), Call{Tool: "write", SessionID: "sess-ROOT-xyz", CallID: "c5"}, args)

	out := &Output{}
	h.PostExecute(context.Background(), Call{Tool: "write", SessionID: "sess-ROOT-xyz", CallID: "c5"}, out)

	containerPath := filepath.Join(simRoot, "new.ts")
	gotBytes, err := os.ReadFile(containerPath)
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;\n", string(gotBytes))
}

// Scenario 6: container unavailable with fallback leaves the agent untouched.
func TestScenario6FallbackToHost(t *testing.T) {
	cfg := scenario1Config()
	cfg.ToolNames = []string{"shell", "read"}
	cfg.Routing.FallbackToHost = true
	runner := &stubRunner{err: assert.AnError}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	shellArgs := &Args{Command: "ls"}
	h.PreExecute(context.Background(), Call{Tool: "shell", SessionID: "sess-ROOT-xyz", CallID: "c6a"}, shellArgs)
	assert.Equal(t, "ls", shellArgs.Command)

	readArgs := &Args{FilePath: "/home/u/p/x.ts"}
	h.PreExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c6b"}, readArgs)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c6b"}, out)
	assert.Equal(t, "host-result", out.Output)
}

func TestDisabledHookNeverMutates(t *testing.T) {
	cfg := scenario1Config()
	cfg.Enabled = false
	runner := &stubRunner{}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Command: "ls"}
	h.PreExecute(context.Background(), Call{Tool: "shell", SessionID: "sess-ROOT-xyz", CallID: "c0"}, args)
	assert.Equal(t, "ls", args.Command)
	assert.Empty(t, runner.calls)
}

func TestPathOutsideProjectRootNeverRoutedToRuntime(t *testing.T) {
	cfg := scenario1Config()
	cfg.ToolNames = []string{"write"}
	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{FilePath: "/etc/passwd"}
	h.PreExecute(context.Background(), Call{Tool: "write", SessionID: "sess-ROOT-xyz", CallID: "c7"}, args)

	assert.Empty(t, runner.calls)
	_, staged := h.pending.consume("c7")
	assert.False(t, staged)
}

// Post-hook failure paths: a genuine container-exec failure must leave
// out.Output untouched (the agent's host result), never overwritten with
// the raw error string. Grep's exit code 1 (ripgrep's own "no matches"
// status) must be treated as success, not a failure.

func TestPostExecuteGrepExitOneIsTreatedAsSuccess(t *testing.T) {
	fakeBin := writeExitRuntime(t, "", 1)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"grep"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Pattern: "TODO"}
	h.PreExecute(context.Background(), Call{Tool: "grep", SessionID: "sess-ROOT-xyz", CallID: "c8"}, args)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "grep", SessionID: "sess-ROOT-xyz", CallID: "c8"}, out)

	assert.Equal(t, "", out.Output)
}

func TestPostExecuteGrepExitTwoLeavesHostResultUntouched(t *testing.T) {
	fakeBin := writeExitRuntime(t, "rg: invalid option", 2)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"grep"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Pattern: "TODO"}
	h.PreExecute(context.Background(), Call{Tool: "grep", SessionID: "sess-ROOT-xyz", CallID: "c9"}, args)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "grep", SessionID: "sess-ROOT-xyz", CallID: "c9"}, out)

	assert.Equal(t, "host-result", out.Output)
}

func TestPostExecuteReadExecFailureLeavesHostResultUntouched(t *testing.T) {
	fakeBin := writeExitRuntime(t, "cat: no such file", 1)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"read"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{FilePath: "/home/u/p/missing.ts"}
	h.PreExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c10"}, args)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "read", SessionID: "sess-ROOT-xyz", CallID: "c10"}, out)

	assert.Equal(t, "host-result", out.Output)
}

func TestPostExecuteGlobExecFailureLeavesHostResultUntouched(t *testing.T) {
	fakeBin := writeExitRuntime(t, "", 2)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"glob"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Pattern: "*.ts"}
	h.PreExecute(context.Background(), Call{Tool: "glob", SessionID: "sess-ROOT-xyz", CallID: "c11"}, args)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "glob", SessionID: "sess-ROOT-xyz", CallID: "c11"}, out)

	assert.Equal(t, "host-result", out.Output)
}

func TestPostExecuteListExecFailureLeavesHostResultUntouched(t *testing.T) {
	fakeBin := writeExitRuntime(t, "", 2)

	cfg := scenario1Config()
	cfg.ToolNames = []string{"list"}
	cfg.RuntimeBinary = fakeBin
	cfg.ContainerConfig.Name = "oc-abcdef12-sess"

	runner := &stubRunner{result: lifecycle.Result{Started: true}}
	h, _ := newTestHook(t, cfg, runner, "abcdef1234", "/home/u/p")

	args := &Args{Path: "/home/u/p/src"}
	h.PreExecute(context.Background(), Call{Tool: "list", SessionID: "sess-ROOT-xyz", CallID: "c12"}, args)

	out := &Output{Output: "host-result"}
	h.PostExecute(context.Background(), Call{Tool: "list", SessionID: "sess-ROOT-xyz", CallID: "c12"}, out)

	assert.Equal(t, "host-result", out.Output)
}

// writeExitRuntime writes a fake "docker" binary whose exec subcommand
// ignores the real command entirely and always prints stdout then exits
// with code, used to pin down how the post-hook reacts to a specific
// container-exec outcome independent of what ripgrep/cat/ls actually do.
func writeExitRuntime(t *testing.T, stdout string, code int) string {
	t.Helper()
	script := "#!/bin/sh\n" +
		"sub=\"$1\"; shift\n" +
		"case \"$sub\" in\n" +
		"  exec)\n" +
		"    printf '%s' '" + stdout + "'\n" +
		"    exit " + strconv.Itoa(code) + "\n" +
		"    ;;\n" +
		"esac\n"
	path := filepath.Join(t.TempDir(), "fake-docker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// writeFakeRuntime writes an executable shell script that stands in for the
// "docker" binary: it remaps a literal "/workspace" prefix embedded in the
// command it is asked to run onto simRoot, then executes the mapped command
// for real via sh. This lets read/list/write tests exercise the actual
// exec.Command plumbing without a real docker daemon.
func writeFakeRuntime(t *testing.T, simRoot string) string {
	t.Helper()
	script := `#!/bin/sh
set -e
sub="$1"; shift
case "$sub" in
  exec)
    container="$1"; shift
    if [ "$1" = "sh" ] && [ "$2" = "-lc" ]; then
      shift 2
      mapped=$(printf '%s' "$1" | sed "s|/workspace|` + simRoot + `|g")
      exec sh -c "$mapped"
    else
      mkdirbin="$1"; shift
      flag="$1"; shift
      path="$1"
      mapped=$(printf '%s' "$path" | sed "s|/workspace|` + simRoot + `|g")
      exec "$mkdirbin" "$flag" "$mapped"
    fi
    ;;
  cp)
    src="$1"; dst="$2"
    destpath="${dst#*:}"
    mapped=$(printf '%s' "$destpath" | sed "s|/workspace|` + simRoot + `|g")
    exec cp "$src" "$mapped"
    ;;
esac
`
	path := filepath.Join(t.TempDir(), "fake-docker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
