// Package cmdbuild constructs the shell command strings the router hands
// back to the agent's shell tool, and the container-side read/list/grep/glob
// commands the hooks run via the runtime driver. Every builder is a pure
// function of its inputs; none touches the filesystem or spawns a process.
//
// Generalizes the teacher's internal/docker.ShellJoinArgs /
// shellQuoteArg (which single-quote each argv token for exec.Command) into
// the double-quoted `sh -lc "CMD"` embedding the router needs: a single
// command string is escaped once so it can be wrapped in a double-quoted
// shell argument without losing its literal meaning.
package cmdbuild

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultListLimit is the line cap applied by List when the caller does not
// override it.
const DefaultListLimit = 200

// DefaultGlobLimit is the result cap applied by Glob.
const DefaultGlobLimit = 100

// EscapeDoubleQuoted escapes s for embedding as the body of a double-quoted
// shell string. Backslash is escaped first so the remaining escapes are not
// themselves re-escaped; literal newline characters are left as-is since
// POSIX shells preserve a raw newline inside double quotes without special
// handling, and escaping it to a literal "\n" would no longer reconstitute
// the original bytes on shell parse.
func EscapeDoubleQuoted(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`$`, `\$`,
		"`", "\\`",
		`"`, `\"`,
	)
	return r.Replace(s)
}

// Exec builds the shell string that re-executes command inside a container:
//
//	BINARY exec -i [--workdir "W"] [-e "K=V"]... "CONTAINER" sh -lc "CMD"
//
// If binary, container, or command is empty, Exec returns a failure command
// instead: a one-line command that prints a diagnostic to stdout and exits
// nonzero, so the agent still sees an explicit error rather than silence.
func Exec(binary, container, command, workdir string, env map[string]string) string {
	if binary == "" || container == "" || command == "" {
		return FailureCommand(fmt.Sprintf("sandbox: cannot build exec command (binary=%q container=%q command empty=%v)", binary, container, command == ""))
	}

	var b strings.Builder
	b.WriteString(binary)
	b.WriteString(" exec -i")

	if workdir != "" {
		b.WriteString(" --workdir \"")
		b.WriteString(EscapeDoubleQuoted(workdir))
		b.WriteString("\"")
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" -e \"")
		b.WriteString(EscapeDoubleQuoted(k))
		b.WriteString("=")
		b.WriteString(EscapeDoubleQuoted(env[k]))
		b.WriteString("\"")
	}

	b.WriteString(" \"")
	b.WriteString(EscapeDoubleQuoted(container))
	b.WriteString("\" sh -lc \"")
	b.WriteString(EscapeDoubleQuoted(command))
	b.WriteString("\"")

	return b.String()
}

// FailureCommand returns a one-line shell command that prints msg to stdout
// and exits nonzero, used to surface a pre-hook error through the agent's
// shell tool.
func FailureCommand(msg string) string {
	return "printf '%s\\n' " + singleQuote(msg) + "; exit 1"
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Read builds the container-side command that prints a file's contents.
func Read(path string) string {
	return `cat -- "` + EscapeDoubleQuoted(path) + `"`
}

// List builds the container-side command that lists a directory's entries,
// one per line, capped at limit (DefaultListLimit if limit <= 0).
func List(path string, limit int) string {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return fmt.Sprintf(`ls -A -p -1 -- "%s" 2>/dev/null | head -n %d`, EscapeDoubleQuoted(path), limit)
}

// Grep builds the container-side ripgrep command. include, if non-empty, is
// passed as an additional --glob filter. The field separator is fixed to a
// single pipe; the post-hook depends on this for line parsing.
func Grep(pattern, include string) string {
	var b strings.Builder
	b.WriteString(`rg -nH --field-match-separator=| --regexp "`)
	b.WriteString(EscapeDoubleQuoted(pattern))
	b.WriteString(`"`)
	if include != "" {
		b.WriteString(` --glob "`)
		b.WriteString(EscapeDoubleQuoted(include))
		b.WriteString(`"`)
	}
	b.WriteString(" 2>/dev/null")
	return b.String()
}

// Glob builds the container-side file-listing ripgrep command, capped at
// limit (DefaultGlobLimit if limit <= 0).
func Glob(pattern string, limit int) string {
	if limit <= 0 {
		limit = DefaultGlobLimit
	}
	var b strings.Builder
	b.WriteString("rg --files")
	if pattern != "" {
		b.WriteString(` -g "`)
		b.WriteString(EscapeDoubleQuoted(pattern))
		b.WriteString(`"`)
	}
	b.WriteString(fmt.Sprintf(" 2>/dev/null | head -n %d", limit))
	return b.String()
}
