// Package knowledge provides the static question→answer table consulted
// before any remote source. Tables are loaded once at startup from a
// YAML file and/or a SQLite database and are read-only afterwards.
package knowledge

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nugget/dazzy/internal/intent"
)

// Base is an immutable key→answer table. Keys are normalized with
// [intent.Normalize] so lookups match utterances directly.
type Base struct {
	entries map[string]string
}

// New builds a Base from the given maps; later maps win on collisions.
func New(sources ...map[string]string) *Base {
	b := &Base{entries: make(map[string]string)}
	for _, src := range sources {
		for k, v := range src {
			if key := intent.Normalize(k); key != "" && v != "" {
				b.entries[key] = v
			}
		}
	}
	return b
}

// Lookup returns the answer stored for key.
func (b *Base) Lookup(key string) (string, bool) {
	if b == nil {
		return "", false
	}
	v, ok := b.entries[intent.Normalize(key)]
	return v, ok
}

// Len returns the number of entries.
func (b *Base) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Keys returns the sorted keys.
func (b *Base) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fileFormat is the YAML layout:
//
//	entries:
//	  capital of france: Paris is the capital of France.
type fileFormat struct {
	Entries map[string]string `yaml:"entries"`
}

// LoadFile reads a YAML knowledge file.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse knowledge file %s: %w", path, err)
	}
	return f.Entries, nil
}
