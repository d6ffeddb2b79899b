package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/falleco/opencode-sandbox/internal/hook"
)

// handleSimulate drives a single pre/post-hook round trip against a
// synthetic session, without a live agent framework behind it. Useful for
// checking routing behavior against a real container by hand: does this
// path map where I expect, does this command get rewritten, does this
// pattern search come back remapped to host paths.
func handleSimulate(rt *runtime, args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	command := fs.String("command", "", "shell command (for tool=shell)")
	path := fs.String("path", "", "file/dir path (for tool=read/write/edit/list)")
	pattern := fs.String("pattern", "", "search pattern (for tool=grep/glob)")
	include := fs.String("include", "", "glob filter (for tool=grep)")
	session := fs.String("session", "", "session id (default: a fresh synthetic one)")
	fs.Parse(normalizeArgs(fs, args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: opencode-sandbox simulate <shell|read|write|edit|grep|glob|list> [flags]")
		os.Exit(1)
	}
	tool := fs.Arg(0)

	sid := *session
	if sid == "" {
		sid = "sim-" + uuid.NewString()
	}
	callID := uuid.NewString()

	call := hook.Call{Tool: tool, SessionID: sid, CallID: callID}
	callArgs := &hook.Args{
		Command:  *command,
		FilePath: *path,
		Path:     *path,
		Pattern:  *pattern,
		Include:  *include,
	}

	fmt.Printf("session=%s call=%s tool=%s\n", sid, callID, tool)
	fmt.Println("--- before ---")
	printArgs(callArgs)

	rt.hook.PreExecute(context.Background(), call, callArgs)

	fmt.Println("--- after pre-hook ---")
	printArgs(callArgs)

	out := &hook.Output{Output: "(simulated tool output would appear here)"}
	rt.hook.PostExecute(context.Background(), call, out)

	fmt.Println("--- after post-hook ---")
	fmt.Println(out.Output)
}

func printArgs(a *hook.Args) {
	if a.Command != "" {
		fmt.Printf("  command: %s\n", a.Command)
	}
	if a.Cwd != "" {
		fmt.Printf("  cwd: %s\n", a.Cwd)
	}
	if a.FilePath != "" {
		fmt.Printf("  filePath: %s\n", a.FilePath)
	}
	if a.Path != "" {
		fmt.Printf("  path: %s\n", a.Path)
	}
	if a.Pattern != "" {
		fmt.Printf("  pattern: %s\n", a.Pattern)
	}
	if a.Include != "" {
		fmt.Printf("  include: %s\n", a.Include)
	}
}
