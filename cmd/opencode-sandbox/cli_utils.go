package main

import (
	"flag"
	"strings"
)

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which
// means "create my-container --image busybox" would silently ignore
// --image. This moves all flags to the front so they parse correctly
// regardless of where the caller put the container name.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// parseKV splits "key=value" pairs, used by the repeatable --env flag. Pairs without "=" are skipped.
func parseKV(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// repeatedFlag accumulates a flag passed multiple times (e.g. --env K=V
// --env K2=V2) into a slice, the way flag.Value is meant to be used for
// multi-valued flags.
type repeatedFlag struct{ values []string }

func (r *repeatedFlag) String() string { return strings.Join(r.values, ",") }
func (r *repeatedFlag) Set(v string) error {
	r.values = append(r.values, v)
	return nil
}
