package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/scanner"
)

// siteStrategy applies the CSS selectors registered for the document's host.
type siteStrategy struct {
	sites    *scanner.Registry
	markdown func(*goquery.Selection) string
}

func (siteStrategy) name() string { return "site-selectors" }

func (s siteStrategy) apply(doc *goquery.Document, sourceURL string, out *extraction) {
	site, ok := s.sites.ForURL(sourceURL)
	if !ok {
		return
	}
	conf := site.Confidence

	text := func(key string) string {
		sel := site.Selector(key)
		if sel == "" {
			return ""
		}
		return cleanText(doc.Find(sel).First().Text())
	}

	out.setText(domain.FieldName, text(scanner.KeyTitle), conf)
	out.setText(domain.FieldDescription, text(scanner.KeyDescription), conf)
	if sel := site.Selector(scanner.KeyIngredients); sel != "" {
		out.setLines(selectionTexts(doc.Find(sel)), conf)
	}
	if sel := site.Selector(scanner.KeyInstructions); sel != "" {
		out.setText(domain.FieldInstructions, blockText(doc.Find(sel), s.markdown), conf)
	}
	out.setMinutes(domain.FieldPrepMinutes, text(scanner.KeyPrepTime), conf)
	out.setMinutes(domain.FieldCookMinutes, text(scanner.KeyCookTime), conf)
	out.setServings(text(scanner.KeyServings), conf)
	out.setText(domain.FieldCuisine, normalizeCuisine(text(scanner.KeyCuisine)), conf)
	out.setText(domain.FieldMealCategory, mealCategory(text(scanner.KeyCategory)), conf)
}

const (
	heuristicTitle        = `.recipe-title, .recipe-name, [class*="recipe-title"], [class*="recipe-name"]`
	heuristicDescription  = `.recipe-description, .recipe-summary, [class*="recipe-description"]`
	heuristicIngredients  = `.ingredients li, .recipe-ingredients li, [class*="ingredient"] li, li[class*="ingredient"]`
	heuristicInstructions = `.instructions li, .recipe-instructions li, .directions li, .method li, [class*="instruction"] li, [class*="direction"] li`
	headingSelector       = "h1, h2, h3, h4, h5, h6"
)

var (
	ingredientsHeadingExpr  = regexp.MustCompile(`(?i)^\s*ingredients?\s*:?\s*$`)
	instructionsHeadingExpr = regexp.MustCompile(`(?i)^\s*(instructions|directions|method|preparation|steps)\s*:?\s*$`)

	durationText = `(\d+(?:\.\d+)?\s*(?:hours?|hrs?|h)(?:\s*(?:and\s*)?\d+\s*(?:minutes?|mins?|m)\b|\b)|\d+\s*(?:minutes?|mins?|m)\b)`
	prepTextExpr = regexp.MustCompile(`(?i)prep(?:aration)?\s*(?:time)?\s*:?\s*` + durationText)
	cookTextExpr = regexp.MustCompile(`(?i)cook(?:ing)?\s*(?:time)?\s*:?\s*` + durationText)
	servesExpr   = regexp.MustCompile(`(?i)\b(?:serves|servings|yield|makes)\s*:?\s*(\d+)`)
)

// heuristicStrategy looks for common class names, section headings and labelled text.
type heuristicStrategy struct {
	markdown func(*goquery.Selection) string
}

func (heuristicStrategy) name() string { return "heuristics" }

func (h heuristicStrategy) apply(doc *goquery.Document, _ string, out *extraction) {
	out.setText(domain.FieldName, cleanText(doc.Find(heuristicTitle).First().Text()), heuristicConfidence)
	out.setText(domain.FieldDescription, cleanText(doc.Find(heuristicDescription).First().Text()), heuristicConfidence)

	out.setLines(selectionTexts(doc.Find(heuristicIngredients)), heuristicConfidence)
	if section := sectionAfter(doc, ingredientsHeadingExpr); section != nil {
		lines := selectionTexts(section.Find("li"))
		if len(lines) == 0 {
			lines = selectionTexts(section.Filter("p"))
		}
		out.setLines(lines, heuristicConfidence)
	}

	out.setText(domain.FieldInstructions, blockText(doc.Find(heuristicInstructions), h.markdown), heuristicConfidence)
	if section := sectionAfter(doc, instructionsHeadingExpr); section != nil {
		out.setText(domain.FieldInstructions, blockText(section, h.markdown), heuristicConfidence)
	}

	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if m := prepTextExpr.FindStringSubmatch(body); m != nil {
		out.setMinutes(domain.FieldPrepMinutes, m[1], heuristicConfidence)
	}
	if m := cookTextExpr.FindStringSubmatch(body); m != nil {
		out.setMinutes(domain.FieldCookMinutes, m[1], heuristicConfidence)
	}
	if m := servesExpr.FindStringSubmatch(body); m != nil {
		out.setServings(m[1], heuristicConfidence)
	}
}

// fallbackStrategy uses page-level metadata when nothing recipe-specific was found.
type fallbackStrategy struct{}

func (fallbackStrategy) name() string { return "fallback" }

func (fallbackStrategy) apply(doc *goquery.Document, _ string, out *extraction) {
	for _, candidate := range []string{
		doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		doc.Find("h1").First().Text(),
		doc.Find("title").First().Text(),
	} {
		if name := cleanText(candidate); name != "" {
			out.setText(domain.FieldName, name, fallbackConfidence)
			break
		}
	}
	for _, candidate := range []string{
		doc.Find(`meta[name="description"]`).AttrOr("content", ""),
		doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
	} {
		if desc := cleanText(candidate); desc != "" {
			out.setText(domain.FieldDescription, desc, fallbackConfidence)
			break
		}
	}
}

// sectionAfter returns the siblings following the first heading that matches expr,
// up to the next heading.
func sectionAfter(doc *goquery.Document, expr *regexp.Regexp) *goquery.Selection {
	var section *goquery.Selection
	doc.Find(headingSelector).EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !expr.MatchString(heading.Text()) {
			return true
		}
		if next := heading.NextUntil(headingSelector); next.Length() > 0 {
			section = next
			return false
		}
		return true
	})
	return section
}

func selectionTexts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// blockText joins many matches line by line and renders a single container as markdown.
func blockText(sel *goquery.Selection, markdown func(*goquery.Selection) string) string {
	switch {
	case sel.Length() == 0:
		return ""
	case sel.Length() == 1 && sel.Children().Length() > 0 && markdown != nil:
		return markdown(sel)
	case sel.Length() == 1:
		return cleanBlock(sel.Text())
	}
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 && markdown != nil {
		return markdown(sel)
	}
	return strings.Join(parts, "\n")
}
