package scanner

import (
	"testing"

	"RecipeAcquisition/internal/config"
)

func TestRegistryForURLMatchesSubdomains(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(nil)

	site, ok := reg.ForURL("https://www.allrecipes.com/recipe/123/pancakes/")
	if !ok || site.Name != "allrecipes" {
		t.Fatalf("expected allrecipes, got %q (ok=%v)", site.Name, ok)
	}

	site, ok = reg.ForURL("https://m.foodnetwork.com/recipes/x")
	if !ok || site.Name != "foodnetwork" {
		t.Fatalf("expected foodnetwork for subdomain, got %q (ok=%v)", site.Name, ok)
	}

	if _, ok := reg.ForURL("https://example.org/recipe"); ok {
		t.Fatalf("unexpected site match for unknown host")
	}
}

func TestRegistryConfigOverridesReplaceSite(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry([]config.SiteConfig{
		{
			Name:      "allrecipes",
			Hosts:     []string{"allrecipes.example"},
			Selectors: map[string]string{KeyTitle: "h1.custom"},
		},
	})

	if _, ok := reg.ForURL("https://allrecipes.com/x"); ok {
		t.Fatalf("old hosts should be dropped when a site is replaced")
	}

	site, ok := reg.ForURL("https://allrecipes.example/x")
	if !ok {
		t.Fatalf("override host not registered")
	}
	if site.Selector(KeyTitle) != "h1.custom" {
		t.Fatalf("unexpected title selector %q", site.Selector(KeyTitle))
	}
	if site.Confidence != DefaultConfidence {
		t.Fatalf("expected default confidence, got %v", site.Confidence)
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(nil)
	if _, err := reg.Resolve("epicurious"); err != nil {
		t.Fatalf("resolve epicurious: %v", err)
	}
	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatalf("expected error for unknown site")
	}
	if got := len(reg.Names()); got != 3 {
		t.Fatalf("expected 3 sites, got %d", got)
	}
}
