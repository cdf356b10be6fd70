package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// KeyspaceEntry is one `[[keyspace]]` block in the manifest: a name and
// the storage DSN backing it. DSN's scheme (`sqlite:` or `dolt:`)
// selects the backend; openKeyspace dispatches on it.
type KeyspaceEntry struct {
	Name string `toml:"name"`
	DSN  string `toml:"dsn"`
}

// Manifest is the TOML keyspace manifest the Server loads at startup.
type Manifest struct {
	Keyspace []KeyspaceEntry `toml:"keyspace"`
}

// LoadManifest parses the TOML manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("server: decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// Select returns the manifest's keyspaces whose name matches at least
// one of the given glob filters. No filters means every keyspace.
func (m *Manifest) Select(filters []string) []KeyspaceEntry {
	if len(filters) == 0 {
		return m.Keyspace
	}
	var out []KeyspaceEntry
	for _, ks := range m.Keyspace {
		for _, pattern := range filters {
			if MatchGlob(pattern, ks.Name) {
				out = append(out, ks)
				break
			}
		}
	}
	return out
}

// MatchGlob reports whether name matches pattern: a filepath.Match glob,
// "*", a "*.suffix" pattern, or a "prefix.*" pattern, falling back to an
// exact match. Grounded on the formula package's step-ID matcher, reused
// here for keyspace names since both are dot-separated identifiers
// filtered the same way.
func MatchGlob(pattern, name string) bool {
	if matched, err := filepath.Match(pattern, name); err == nil && matched {
		return true
	}

	if pattern == "*" {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(name, suffix)
	}

	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(name, prefix)
	}

	return pattern == name
}
