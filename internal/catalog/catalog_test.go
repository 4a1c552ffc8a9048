package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `species:
  - id: sp-python-regius
    label: Ball Python
    latin_name: Python regius
  - id: sp-morelia-viridis
    label: Green Tree Python
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "species.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 2 || !c.Contains("sp-python-regius") || c.Contains("sp-nope") {
		t.Fatalf("unexpected catalog contents: %+v", c.All())
	}
	if got := c.Label("sp-morelia-viridis"); got != "Green Tree Python" {
		t.Fatalf("unexpected label: %q", got)
	}
	if got := c.Label("sp-nope"); got != "" {
		t.Fatalf("unknown id should have empty label, got %q", got)
	}
	if s, ok := c.Get("sp-python-regius"); !ok || s.LatinName != "Python regius" {
		t.Fatalf("unexpected entry: %+v", s)
	}
	if all := c.All(); all[0].ID != "sp-morelia-viridis" {
		t.Fatalf("expected sorted entries, got %+v", all)
	}
	if !strings.HasPrefix(c.Hash, "sha256:") {
		t.Fatalf("expected hash, got %q", c.Hash)
	}
}

func TestParseRejectsDuplicatesAndBadYAML(t *testing.T) {
	dup := "species:\n  - id: a\n    label: A\n  - id: a\n    label: B\n"
	if _, err := Parse([]byte(dup)); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := Parse([]byte("species: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if c.Contains("x") || c.Label("x") != "" || c.Len() != 0 || c.All() != nil {
		t.Fatalf("nil catalog should be empty")
	}
}
