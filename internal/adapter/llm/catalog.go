package llm

import (
	"strings"

	"bedrock-relay/internal/infra/config"
)

// Catalog maps user-facing model names to upstream model identifiers.
// It is read-only after construction.
type Catalog struct {
	entries []config.ModelEntry
	byName  map[string]string
	byFold  map[string]string
	def     string
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(cfg config.ModelsConfig) *Catalog {
	c := &Catalog{
		entries: append([]config.ModelEntry(nil), cfg.Catalog...),
		byName:  make(map[string]string, len(cfg.Catalog)),
		byFold:  make(map[string]string, len(cfg.Catalog)),
		def:     cfg.Default,
	}
	for _, e := range cfg.Catalog {
		c.byName[e.Name] = e.ID
		c.byFold[strings.ToLower(e.Name)] = e.ID
	}
	return c
}

// Resolve returns the upstream id for name. Catalog names match exactly
// first, then case-insensitively; anything else is passed through unchanged
// so callers may send raw model ids. An empty name resolves to the default.
func (c *Catalog) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.lookup(c.def)
	}
	return c.lookup(name)
}

// lookup resolves name without the default fallback.
func (c *Catalog) lookup(name string) string {
	if id, ok := c.byName[name]; ok {
		return id
	}
	if id, ok := c.byFold[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// Entries returns a copy of the catalog rows in configuration order.
func (c *Catalog) Entries() []config.ModelEntry {
	return append([]config.ModelEntry(nil), c.entries...)
}

// Default returns the configured default model.
func (c *Catalog) Default() string { return c.def }
