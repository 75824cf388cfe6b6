package scanner

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"RecipeAcquisition/internal/config"
)

// Selector keys understood by the extractor.
const (
	KeyTitle        = "title"
	KeyDescription  = "description"
	KeyIngredients  = "ingredients"
	KeyInstructions = "instructions"
	KeyPrepTime     = "prepTime"
	KeyCookTime     = "cookTime"
	KeyServings     = "servings"
	KeyCuisine      = "cuisine"
	KeyCategory     = "category"
)

// DefaultConfidence applies to sites that do not set their own.
const DefaultConfidence = 0.8

// Site describes the CSS selectors that locate recipe parts on one family of hosts.
type Site struct {
	Name       string
	Hosts      []string
	Confidence float64
	Selectors  map[string]string
}

// Selector returns the configured selector for key, if any.
func (s Site) Selector(key string) string {
	return strings.TrimSpace(s.Selectors[key])
}

// Registry keeps a mapping from hosts to their site selectors.
type Registry struct {
	sites  map[string]Site
	byHost map[string]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sites: map[string]Site{}, byHost: map[string]string{}}
}

// NewDefaultRegistry registers the built-in sites followed by configured overrides.
func NewDefaultRegistry(overrides []config.SiteConfig) *Registry {
	r := NewRegistry()
	for _, site := range DefaultSites() {
		r.Register(site)
	}
	for _, sc := range overrides {
		r.Register(FromConfig(sc))
	}
	return r
}

// FromConfig converts a YAML site entry.
func FromConfig(sc config.SiteConfig) Site {
	selectors := make(map[string]string, len(sc.Selectors))
	for k, v := range sc.Selectors {
		selectors[k] = v
	}
	return Site{Name: sc.Name, Hosts: sc.Hosts, Confidence: sc.Confidence, Selectors: selectors}
}

// Register adds or replaces a site by name.
func (r *Registry) Register(site Site) {
	if r.sites == nil {
		r.sites = map[string]Site{}
		r.byHost = map[string]string{}
	}
	if site.Confidence <= 0 || site.Confidence > 1 {
		site.Confidence = DefaultConfidence
	}
	if old, ok := r.sites[site.Name]; ok {
		for _, h := range old.Hosts {
			delete(r.byHost, canonicalHost(h))
		}
	}
	r.sites[site.Name] = site
	for _, h := range site.Hosts {
		r.byHost[canonicalHost(h)] = site.Name
	}
}

// Resolve returns a site by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Site, error) {
	if site, ok := r.sites[name]; ok {
		return site, nil
	}
	return Site{}, fmt.Errorf("site %s is not registered", name)
}

// ForURL finds the site whose host matches rawURL, including subdomains.
func (r *Registry) ForURL(rawURL string) (Site, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Site{}, false
	}
	host := canonicalHost(u.Hostname())
	for host != "" {
		if name, ok := r.byHost[host]; ok {
			return r.sites[name], true
		}
		_, rest, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = rest
	}
	return Site{}, false
}

// Names lists registered sites in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func canonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// DefaultSites lists selectors for well-known recipe publishers.
func DefaultSites() []Site {
	return []Site{
		{
			Name:       "allrecipes",
			Hosts:      []string{"allrecipes.com"},
			Confidence: 0.8,
			Selectors: map[string]string{
				KeyTitle:        "h1.article-heading, h1.recipe-summary__h1",
				KeyDescription:  "p.article-subheading",
				KeyIngredients:  ".mm-recipes-structured-ingredients__list-item, .recipe-ingred_txt",
				KeyInstructions: ".mm-recipes-steps__content li p, .recipe-directions__list--item",
				KeyPrepTime:     ".mm-recipes-details__item:contains('Prep Time') .mm-recipes-details__value",
				KeyCookTime:     ".mm-recipes-details__item:contains('Cook Time') .mm-recipes-details__value",
				KeyServings:     ".mm-recipes-details__item:contains('Servings') .mm-recipes-details__value",
			},
		},
		{
			Name:       "foodnetwork",
			Hosts:      []string{"foodnetwork.com"},
			Confidence: 0.8,
			Selectors: map[string]string{
				KeyTitle:        ".o-AssetTitle__a-HeadlineText",
				KeyIngredients:  ".o-RecipeIngredient__a-Ingredient",
				KeyInstructions: ".o-Method__m-Step",
				KeyPrepTime:     ".o-RecipeInfo__a-Description--Prep",
				KeyCookTime:     ".o-RecipeInfo__a-Description--Cook",
				KeyServings:     ".o-RecipeInfo__m-Yield .o-RecipeInfo__a-Description",
			},
		},
		{
			Name:       "epicurious",
			Hosts:      []string{"epicurious.com"},
			Confidence: 0.7,
			Selectors: map[string]string{
				KeyTitle:        "h1[data-testid='ContentHeaderHed']",
				KeyDescription:  "[data-testid='ContentHeaderAccreditation'] p",
				KeyIngredients:  "[data-testid='IngredientList'] div[class*='Description']",
				KeyInstructions: "[data-testid='InstructionsWrapper'] li p",
				KeyServings:     "[data-testid='IngredientList'] p[class*='Yield']",
			},
		},
	}
}
