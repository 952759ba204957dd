package migrate_test

import (
	"errors"
	"testing"

	"github.com/plantrack/plantrack/internal/migrate"
)

func TestNewCatalogRejectsGap(t *testing.T) {
	_, err := migrate.NewCatalog("", []migrate.Patch{
		{Ordinal: 1, Script: `SELECT 1;`},
		{Ordinal: 2, Script: `SELECT 1;`},
		{Ordinal: 4, Script: `SELECT 1;`},
	})
	if err == nil {
		t.Fatal("expected a gap error")
	}
	var gap *migrate.CatalogGapError
	if !errors.As(err, &gap) {
		t.Fatalf("error %v is not a CatalogGapError", err)
	}
	if gap.Missing != 3 {
		t.Errorf("missing ordinal = %d, want 3", gap.Missing)
	}
}

func TestNewCatalogRejectsDuplicateAndDescendingOrdinals(t *testing.T) {
	for name, patches := range map[string][]migrate.Patch{
		"duplicate":  {{Ordinal: 1}, {Ordinal: 1}},
		"descending": {{Ordinal: 2}, {Ordinal: 1}},
		"zero":       {{Ordinal: 0}},
	} {
		if _, err := migrate.NewCatalog("", patches); err == nil {
			t.Errorf("%s ordinals accepted, want error", name)
		}
	}
}

func TestCatalogPending(t *testing.T) {
	catalog, err := migrate.NewCatalog("", []migrate.Patch{
		{Ordinal: 1}, {Ordinal: 2}, {Ordinal: 3}, {Ordinal: 4},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got := catalog.Latest(); got != 4 {
		t.Errorf("Latest = %d, want 4", got)
	}

	pending := catalog.Pending(2)
	if len(pending) != 2 {
		t.Fatalf("Pending(2) returned %d patches, want 2", len(pending))
	}
	if pending[0].Ordinal != 3 || pending[1].Ordinal != 4 {
		t.Errorf("Pending(2) = %d, %d; want 3, 4", pending[0].Ordinal, pending[1].Ordinal)
	}
	if got := catalog.Pending(4); got != nil {
		t.Errorf("Pending(4) = %v, want nil", got)
	}
	if got := catalog.Pending(0); len(got) != 4 {
		t.Errorf("Pending(0) returned %d patches, want all 4", len(got))
	}
}

func TestShippedCatalogIsContiguous(t *testing.T) {
	catalog := migrate.Shipped()
	if catalog.Latest() < 1 {
		t.Fatal("shipped catalog is empty")
	}
	pending := catalog.Pending(0)
	for i, p := range pending {
		if p.Ordinal != i+1 {
			t.Fatalf("shipped patch %d has ordinal %d", i, p.Ordinal)
		}
	}
	if catalog.Base() == "" {
		t.Error("shipped catalog has no base schema")
	}
}
