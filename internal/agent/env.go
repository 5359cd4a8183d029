package agent

import (
	"os"
	"sort"
)

// AllowedEnv is copied from the ambient environment into every child.
// Nothing else is inherited.
var AllowedEnv = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "TMPDIR", "LANG", "LC_ALL", "TERM",
}

// BuildEnv returns the allow-listed ambient variables with each overlay
// applied in order. The result is sorted for stable process listings.
func BuildEnv(overlays ...map[string]string) []string {
	env := make(map[string]string, len(AllowedEnv))
	for _, key := range AllowedEnv {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			if k == "" {
				continue
			}
			env[k] = v
		}
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// passthrough copies the named variables from the ambient environment when
// they are set. Runtimes use it to declare provider credentials.
func passthrough(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			out[k] = v
		}
	}
	return out
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// withoutFlag returns a copy of args with exact matches to flag removed.
func withoutFlag(args []string, flag string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a != flag {
			out = append(out, a)
		}
	}
	return out
}
