package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// manifestPath is the conventional location of the agent framework's
// plugin manifest. Writing to it is out of scope (spec.md treats the
// hosting plugin manifest as an external collaborator's concern); this
// subcommand only reports whether it already references this plugin,
// mirroring the teacher's handleHooksStatus for Claude's settings.json.
func manifestPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "opencode", "opencode.json"), nil
}

func pluginWired(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var manifest struct {
		Plugin []string `json:"plugin"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false
	}

	for _, p := range manifest.Plugin {
		if p == "opencode-sandbox" || filepath.Base(p) == "opencode-sandbox" {
			return true
		}
	}
	return false
}

// handleHooksStatus reports whether the router's plugin is wired into the
// agent framework's manifest and how many PendingCalls are currently
// staged, the two diagnostics an operator actually needs when a session
// looks stuck: is the plugin even loaded, and is a post-hook leaking.
func handleHooksStatus(rt *runtime) {
	path, err := manifestPath()
	if err != nil {
		exitErr(err)
	}

	if pluginWired(path) {
		fmt.Println("Plugin: WIRED")
		fmt.Printf("Manifest: %s\n", path)
	} else {
		fmt.Println("Plugin: NOT WIRED")
		fmt.Printf("Add \"opencode-sandbox\" to the \"plugin\" array in %s\n", path)
	}

	fmt.Printf("Staged pending calls: %d\n", rt.hook.PendingCount())
}

func handleHooks(rt *runtime, args []string) {
	if len(args) == 0 || args[0] != "status" {
		fmt.Fprintln(os.Stderr, "usage: opencode-sandbox hooks status")
		os.Exit(1)
	}
	handleHooksStatus(rt)
}
