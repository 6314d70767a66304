// Package rules holds the tracked-ruleset catalog: which addon ids mark a
// ladder game plus display names for eras and factions. Defaults are embedded
// and an optional override file can replace or extend them at deploy time.
package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultFiles embed.FS

type catalogFile struct {
	TrackedAddons []string          `yaml:"tracked_addons"`
	Eras          map[string]string `yaml:"eras"`
	Factions      map[string]string `yaml:"factions"`
}

// Catalog is an immutable view of the loaded ruleset data.
type Catalog struct {
	tracked  []string
	eras     map[string]string
	factions map[string]string
}

// New loads the embedded defaults and then applies overridePath if non-empty.
// Override lists replace the defaults wholesale; override maps are merged
// key by key.
func New(overridePath string) (*Catalog, error) {
	raw, err := fs.ReadFile(defaultFiles, "rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded rules: %w", err)
	}
	var base catalogFile
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("parse embedded rules: %w", err)
	}

	if strings.TrimSpace(overridePath) != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read rules override: %w", err)
		}
		var over catalogFile
		if err := yaml.Unmarshal(b, &over); err != nil {
			return nil, fmt.Errorf("parse rules override: %w", err)
		}
		if len(over.TrackedAddons) > 0 {
			base.TrackedAddons = over.TrackedAddons
		}
		for k, v := range over.Eras {
			if base.Eras == nil {
				base.Eras = map[string]string{}
			}
			base.Eras[k] = v
		}
		for k, v := range over.Factions {
			if base.Factions == nil {
				base.Factions = map[string]string{}
			}
			base.Factions[k] = v
		}
	}

	c := &Catalog{eras: base.Eras, factions: base.Factions}
	for _, id := range base.TrackedAddons {
		if s := strings.TrimSpace(id); s != "" {
			c.tracked = append(c.tracked, s)
		}
	}
	if len(c.tracked) == 0 {
		return nil, fmt.Errorf("rules catalog has no tracked addons")
	}
	return c, nil
}

// TrackedAddonIDs returns the addon ids that mark a ladder game.
func (c *Catalog) TrackedAddonIDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.tracked))
	copy(out, c.tracked)
	return out
}

// IsTracked reports whether id marks a ladder game.
func (c *Catalog) IsTracked(id string) bool {
	if c == nil {
		return false
	}
	for _, t := range c.tracked {
		if t == id {
			return true
		}
	}
	return false
}

// FactionName returns the display name for a faction id, falling back to the
// id itself.
func (c *Catalog) FactionName(id string) string {
	if c != nil {
		if name, ok := c.factions[id]; ok {
			return name
		}
	}
	return id
}

// EraName returns the display name for an era id, falling back to the id.
func (c *Catalog) EraName(id string) string {
	if c != nil {
		if name, ok := c.eras[id]; ok {
			return name
		}
	}
	return id
}
