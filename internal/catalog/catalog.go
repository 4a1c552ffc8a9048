// Package catalog loads the species reference list used to label records and
// validate species links on submission.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/curator/internal/crypto"
)

type Species struct {
	ID        string `yaml:"id" json:"id"`
	Label     string `yaml:"label" json:"label"`
	LatinName string `yaml:"latin_name,omitempty" json:"latin_name,omitempty"`
}

type document struct {
	Species []Species `yaml:"species"`
}

type Catalog struct {
	// Hash is the digest of the loaded file.
	Hash string

	byID map[string]Species
}

// Load reads a YAML catalog of the form `species: [{id, label}]`.
func Load(path string) (*Catalog, error) {
	// #nosec G304 -- path comes from operator-configured catalog path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	c := New(doc.Species...)
	if len(c.byID) != len(doc.Species) {
		return nil, fmt.Errorf("duplicate or empty species id")
	}
	c.Hash = crypto.DigestWithPrefix(data)
	return c, nil
}

// New builds a catalog from entries. Entries without an id are skipped and
// later duplicates win.
func New(entries ...Species) *Catalog {
	c := &Catalog{byID: make(map[string]Species, len(entries))}
	for _, s := range entries {
		if s.ID == "" {
			continue
		}
		c.byID[s.ID] = s
	}
	return c
}

func (c *Catalog) Contains(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.byID[id]
	return ok
}

// Label returns the display label for id, or "" when unknown.
func (c *Catalog) Label(id string) string {
	if c == nil {
		return ""
	}
	return c.byID[id].Label
}

func (c *Catalog) Get(id string) (Species, bool) {
	if c == nil {
		return Species{}, false
	}
	s, ok := c.byID[id]
	return s, ok
}

// All returns every entry ordered by id.
func (c *Catalog) All() []Species {
	if c == nil {
		return nil
	}
	out := make([]Species, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byID)
}
