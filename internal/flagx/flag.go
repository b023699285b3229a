// Package flagx lets several flag sets share one command line: each set
// parses only the arguments it owns.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Keep returns the arguments that belong to the named flags, together with
// their values. Names are given without dashes; "-x", "--x", "-x=v" and
// "--x=v" all match "x". A following argument that starts with a dash is
// never taken as a value.
func Keep(args []string, names ...string) []string {
	owned := make(map[string]bool, len(names))
	for _, n := range names {
		owned[n] = true
	}

	kept := []string{}
	for i := 0; i < len(args); i++ {
		name, hasValue := flagName(args[i])
		if name == "" || !owned[name] {
			continue
		}
		kept = append(kept, args[i])
		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			kept = append(kept, args[i+1])
			i++
		}
	}
	return kept
}

// flagName strips the dashes off arg and reports whether the value is
// inline. Non-flag arguments yield "".
func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	if before, _, found := strings.Cut(name, "="); found {
		return before, true
	}
	return name, false
}

// ConfigFile returns the path given with -c or -config, or "" when neither
// is present. The last occurrence wins.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(Keep(args, "c", "config"))

	return path
}
