// Package badges holds the set of badge types the enhancement engine can
// render and the named presets that expand to groups of them.
package badges

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// Built-in badge types
const (
	AudioCodec = "audio_codec"
	Resolution = "resolution"
	Review     = "review"
	Awards     = "awards"
)

// BuiltinTypes lists the badge types every catalog knows
var BuiltinTypes = []string{AudioCodec, Resolution, Review, Awards}

// Catalog resolves badge type names and preset names. It is safe for
// concurrent use; presets can be swapped while jobs are being submitted.
type Catalog struct {
	mu      sync.RWMutex
	types   map[string]struct{}
	presets map[string][]string
}

// NewCatalog creates a catalog with the built-in types and the given presets
func NewCatalog(presets map[string][]string) (*Catalog, error) {
	c := &Catalog{types: make(map[string]struct{})}
	for _, t := range BuiltinTypes {
		c.types[t] = struct{}{}
	}
	if err := c.SetPresets(presets); err != nil {
		return nil, err
	}
	return c, nil
}

// SetPresets replaces every preset. A preset referring to an unknown badge
// type is rejected and the previous presets stay in place.
func (c *Catalog) SetPresets(presets map[string][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string][]string, len(presets))
	for name, types := range presets {
		if _, clash := c.types[name]; clash {
			return fmt.Errorf("%w: preset %q shadows a badge type", domain.ErrValidation, name)
		}
		for _, t := range types {
			if _, ok := c.types[t]; !ok {
				return fmt.Errorf("%w: preset %q uses unknown badge type %q", domain.ErrValidation, name, t)
			}
		}
		next[name] = append([]string(nil), types...)
	}
	c.presets = next
	return nil
}

// Known reports whether t is a badge type
func (c *Catalog) Known(t string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[t]
	return ok
}

// Presets returns the preset names in sorted order
func (c *Catalog) Presets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand resolves a list of badge types and preset names into a
// de-duplicated list of badge types, keeping first-seen order.
func (c *Catalog) Expand(names []string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	for _, name := range names {
		if _, ok := c.types[name]; ok {
			add(name)
			continue
		}
		preset, ok := c.presets[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown badge type %q", domain.ErrValidation, name)
		}
		for _, t := range preset {
			add(t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one badge type is required", domain.ErrValidation)
	}
	return out, nil
}
