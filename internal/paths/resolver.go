// Package paths resolves the file locations named in the config.
// Values may start with "~/" for the home directory or with a named
// prefix such as "data:" (the data directory) or "config:" (the
// directory holding the config file).
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps named prefixes to directories. A nil *Resolver only
// expands "~".
type Resolver struct {
	prefixes map[string]string // "data:" -> "/var/lib/dazzy"
	sorted   []string          // longest first
}

// New creates a Resolver. Keys are prefix names without the colon.
// Tildes in the directories are expanded. Returns nil for an empty map.
func New(prefixes map[string]string) *Resolver {
	if len(prefixes) == 0 {
		return nil
	}
	r := &Resolver{prefixes: make(map[string]string, len(prefixes))}
	for name, dir := range prefixes {
		key := strings.TrimSuffix(name, ":") + ":"
		r.prefixes[key] = ExpandHome(dir)
		r.sorted = append(r.sorted, key)
	}
	// "data:" must not steal "database:".
	sort.Slice(r.sorted, func(i, j int) bool {
		return len(r.sorted[i]) > len(r.sorted[j])
	})
	return r
}

// Resolve expands path. Unprefixed paths only get tilde expansion. A
// bare prefix returns its directory.
func (r *Resolver) Resolve(path string) string {
	if r != nil {
		for _, prefix := range r.sorted {
			if rel, ok := strings.CutPrefix(path, prefix); ok {
				if rel == "" {
					return r.prefixes[prefix]
				}
				return filepath.Join(r.prefixes[prefix], rel)
			}
		}
	}
	return ExpandHome(path)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
