package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"RecipeAcquisition/internal/domain"
)

// microdataStrategy reads itemprop attributes inside a schema.org/Recipe itemscope.
type microdataStrategy struct{}

func (microdataStrategy) name() string { return "microdata" }

func (microdataStrategy) apply(doc *goquery.Document, _ string, out *extraction) {
	scope := doc.Find(`[itemscope][itemtype*="schema.org/Recipe"]`).First()
	if scope.Length() == 0 {
		return
	}
	root := scope.Get(0)

	props := map[string][]*goquery.Selection{}
	scope.Find("[itemprop]").Each(func(_ int, s *goquery.Selection) {
		// Properties of nested items (nutrition, author, ...) belong to those items.
		owner := s.Parent().Closest("[itemscope]")
		if owner.Length() == 0 || owner.Get(0) != root {
			return
		}
		for _, p := range strings.Fields(s.AttrOr("itemprop", "")) {
			props[p] = append(props[p], s)
		}
	})

	first := func(prop string) string {
		for _, s := range props[prop] {
			if v := itemValue(s); v != "" {
				return v
			}
		}
		return ""
	}
	all := func(prop string) []string {
		var values []string
		for _, s := range props[prop] {
			if v := itemValue(s); v != "" {
				values = append(values, v)
			}
		}
		return values
	}

	out.setText(domain.FieldName, cleanText(first("name")), schemaConfidence)
	out.setText(domain.FieldDescription, cleanText(first("description")), schemaConfidence)

	lines := all("recipeIngredient")
	if len(lines) == 0 {
		lines = all("ingredients")
	}
	out.setLines(lines, schemaConfidence)

	var steps []string
	for _, s := range props["recipeInstructions"] {
		if items := s.Find("li"); items.Length() > 0 {
			items.Each(func(_ int, li *goquery.Selection) {
				if t := cleanText(li.Text()); t != "" {
					steps = append(steps, t)
				}
			})
			continue
		}
		if t := cleanBlock(itemValue(s)); t != "" {
			steps = append(steps, t)
		}
	}
	out.setText(domain.FieldInstructions, strings.Join(steps, "\n"), schemaConfidence)

	out.setMinutes(domain.FieldPrepMinutes, first("prepTime"), schemaConfidence)
	out.setMinutes(domain.FieldCookMinutes, first("cookTime"), schemaConfidence)
	out.setServings(first("recipeYield"), schemaConfidence)
	out.setText(domain.FieldCuisine, normalizeCuisine(first("recipeCuisine")), schemaConfidence)
	out.setText(domain.FieldMealCategory, mealCategory(strings.Join(all("recipeCategory"), " ")), schemaConfidence)
	out.setTags(dietTags(all("suitableForDiet")), schemaConfidence)
}

// itemValue follows the microdata value rules for the common element kinds.
func itemValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "meta":
		return strings.TrimSpace(s.AttrOr("content", ""))
	case "time":
		if v, ok := s.Attr("datetime"); ok {
			return strings.TrimSpace(v)
		}
	case "link":
		return strings.TrimSpace(s.AttrOr("href", ""))
	case "img":
		return strings.TrimSpace(s.AttrOr("src", ""))
	case "data", "meter":
		if v, ok := s.Attr("value"); ok {
			return strings.TrimSpace(v)
		}
	}
	if v, ok := s.Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}
