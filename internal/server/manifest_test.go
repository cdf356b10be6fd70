package server

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifestParsesKeyspaces(t *testing.T) {
	path := writeManifest(t, `
[[keyspace]]
name = "prod.users"
dsn = "sqlite:./users.db"

[[keyspace]]
name = "prod.orders"
dsn = "dolt:./orders"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Keyspace) != 2 {
		t.Fatalf("expected 2 keyspaces, got %d", len(m.Keyspace))
	}
}

func TestSelectFiltersByGlob(t *testing.T) {
	m := &Manifest{Keyspace: []KeyspaceEntry{
		{Name: "prod.users"}, {Name: "prod.orders"}, {Name: "staging.users"},
	}}

	got := m.Select([]string{"prod.*"})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches for prod.*, got %d", len(got))
	}

	all := m.Select(nil)
	if len(all) != 3 {
		t.Fatalf("expected all 3 keyspaces with no filter, got %d", len(all))
	}
}

func TestMatchGlobSuffixAndPrefixForms(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{"*.users", "prod.users", true},
		{"prod.*", "prod.orders", true},
		{"prod.*", "staging.orders", false},
		{"exact", "exact", true},
		{"exact", "other", false},
	}
	for _, c := range cases {
		if got := MatchGlob(c.pattern, c.name); got != c.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}
