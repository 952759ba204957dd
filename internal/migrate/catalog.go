package migrate

import "fmt"

// Patch is a single numbered, immutable unit of schema/data change. Scripts
// may be non-idempotent; the pipeline tracks applied ordinals in the version
// ledger and never re-derives completion from data shape.
type Patch struct {
	Ordinal     int
	Description string
	// Idempotent marks a patch as safe to re-run. Informational only: the
	// executor applies every patch exactly once regardless.
	Idempotent bool
	Script     string
}

// Catalog is the ordered, append-only sequence of patches plus the base
// schema (ordinal 0), which is applied only to fresh stores.
type Catalog struct {
	base    string
	patches []Patch
}

// NewCatalog validates the patch sequence at load time: ordinals must be
// strictly increasing with no gaps. A hole in the sequence is a fatal
// CatalogGapError before any patch runs.
func NewCatalog(base string, patches []Patch) (*Catalog, error) {
	for i, p := range patches {
		if p.Ordinal < 1 {
			return nil, fmt.Errorf("patch ordinal %d is invalid: ordinals start at 1", p.Ordinal)
		}
		if i == 0 {
			continue
		}
		prev := patches[i-1].Ordinal
		switch {
		case p.Ordinal <= prev:
			return nil, fmt.Errorf("patch ordinal %d repeats or precedes ordinal %d", p.Ordinal, prev)
		case p.Ordinal > prev+1:
			return nil, &CatalogGapError{Missing: prev + 1}
		}
	}
	return &Catalog{base: base, patches: patches}, nil
}

// Base returns the ordinal-0 schema declaration.
func (c *Catalog) Base() string { return c.base }

// Latest returns the highest patch ordinal, or 0 for an empty catalog.
func (c *Catalog) Latest() int {
	if len(c.patches) == 0 {
		return 0
	}
	return c.patches[len(c.patches)-1].Ordinal
}

// Pending returns all patches with ordinal strictly greater than from, in
// ascending order.
func (c *Catalog) Pending(from int) []Patch {
	for i, p := range c.patches {
		if p.Ordinal > from {
			return c.patches[i:]
		}
	}
	return nil
}
