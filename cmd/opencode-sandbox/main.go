package main

import (
	"fmt"
	"os"
)

func main() {
	args := os.Args[1:]

	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("opencode-sandbox v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	}

	rt, err := newRuntime()
	if err != nil {
		exitErr(err)
	}
	defer rt.Close()

	switch args[0] {
	case "create":
		handleCreate(rt, args[1:])
	case "use":
		handleUse(rt, args[1:])
	case "clear":
		handleClear(rt, args[1:])
	case "info":
		handleInfo(rt, args[1:])
	case "list", "ls":
		handleList(rt, args[1:])
	case "hooks":
		handleHooks(rt, args[1:])
	case "simulate":
		handleSimulate(rt, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`opencode-sandbox: routes an agent's tool calls into a per-session container sandbox

Usage:
  opencode-sandbox create [name] [--image IMG] [--workdir DIR] [--project-path DIR]
                          [--network NET] [--env K=V]... [--mount HOST:CONTAINER]...
                          [--cpu LIMIT] [--memory LIMIT] [--agent-configs]
                          [--worktree-repo DIR] [--worktree-rel DIR] [--session ID]
  opencode-sandbox use <name> [--session ID]
  opencode-sandbox clear [--stop] [--remove] [--session ID]
  opencode-sandbox info [--plain] [--color auto|always|never] [--session ID]
  opencode-sandbox list [--all] [--plain] [--color auto|always|never]
  opencode-sandbox hooks status
  opencode-sandbox simulate <shell|read|write|edit|grep|glob|list> [flags]
  opencode-sandbox version`)
}
