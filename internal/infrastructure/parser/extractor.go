package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
	"RecipeAcquisition/internal/scanner"
)

const (
	heuristicConfidence = 0.5
	fallbackConfidence  = 0.3
	lowConfidenceBelow  = 0.5
)

// strategy fills the still-empty fields of an extraction from one kind of markup.
type strategy interface {
	name() string
	apply(doc *goquery.Document, sourceURL string, out *extraction)
}

// Extractor turns fetched HTML into a recipe draft using structured data first and
// progressively weaker heuristics afterwards.
type Extractor struct {
	sites      *scanner.Registry
	converter  *md.Converter
	strategies []strategy
	logger     *slog.Logger
}

var _ ports.Extractor = (*Extractor)(nil)

// NewExtractor wires the site selector registry; a nil registry uses the built-in sites.
func NewExtractor(sites *scanner.Registry, logger *slog.Logger) *Extractor {
	if sites == nil {
		sites = scanner.NewDefaultRegistry(nil)
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	e := &Extractor{sites: sites, converter: converter, logger: logger}
	e.strategies = []strategy{
		jsonLDStrategy{},
		microdataStrategy{},
		siteStrategy{sites: sites, markdown: e.markdown},
		heuristicStrategy{markdown: e.markdown},
		fallbackStrategy{},
	}
	return e
}

// Extract never fails: missing or ambiguous data is reported through confidence and issues.
func (e *Extractor) Extract(doc domain.ScrapedDocument) (draft domain.RecipeDraft) {
	draft = domain.RecipeDraft{
		SourceURL:       doc.SourceURL,
		Status:          domain.DraftExtracted,
		FieldConfidence: map[domain.Field]float64{},
	}

	defer func() {
		if r := recover(); r != nil {
			e.warn("extractor panic recovered", "url", doc.SourceURL, "panic", fmt.Sprint(r))
			draft = domain.RecipeDraft{
				SourceURL:       doc.SourceURL,
				Status:          domain.DraftExtracted,
				FieldConfidence: zeroConfidence(),
				LowConfidence:   true,
				Issues:          []domain.Issue{{Message: "document could not be parsed"}},
			}
		}
	}()

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.RawContent))
	if err != nil {
		e.warn("html parse failed", "url", doc.SourceURL, "error", err)
		draft.FieldConfidence = zeroConfidence()
		draft.LowConfidence = true
		draft.Issues = []domain.Issue{{Message: fmt.Sprintf("document could not be parsed: %v", err)}}
		return draft
	}

	out := newExtraction()
	for _, s := range e.strategies {
		s.apply(parsed, doc.SourceURL, out)
		e.debug("extraction strategy applied", "url", doc.SourceURL, "strategy", s.name(), "filled", out.filledCount())
	}
	out.finish()

	draft.Fields = out.fields
	draft.FieldConfidence = out.confidence
	draft.RawIngredientLines = out.lines
	draft.Issues = out.issues
	draft.LowConfidence = out.confidence[domain.FieldName] < lowConfidenceBelow && len(out.lines) == 0
	return draft
}

func (e *Extractor) markdown(sel *goquery.Selection) string {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return cleanBlock(sel.Text())
	}
	text, err := e.converter.ConvertString(html)
	if err != nil {
		return cleanBlock(sel.Text())
	}
	return cleanBlock(strings.TrimSpace(text))
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Extractor) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func zeroConfidence() map[domain.Field]float64 {
	m := make(map[domain.Field]float64, len(domain.AllFields))
	for _, f := range domain.AllFields {
		m[f] = 0
	}
	return m
}

// extraction accumulates field values; the first strategy to set a field wins.
type extraction struct {
	fields     domain.RecipeFields
	confidence map[domain.Field]float64
	lines      []string
	issues     []domain.Issue
	timeErrors map[domain.Field]string
}

func newExtraction() *extraction {
	return &extraction{
		confidence: map[domain.Field]float64{},
		timeErrors: map[domain.Field]string{},
	}
}

func (x *extraction) has(f domain.Field) bool {
	_, ok := x.confidence[f]
	return ok
}

func (x *extraction) filledCount() int {
	return len(x.confidence)
}

func (x *extraction) issue(f domain.Field, msg string) {
	x.issues = append(x.issues, domain.Issue{Field: f, Message: msg})
}

func (x *extraction) setText(f domain.Field, value string, conf float64) {
	value = strings.TrimSpace(value)
	if value == "" || x.has(f) {
		return
	}
	value = truncate(value)
	switch f {
	case domain.FieldName:
		x.fields.Name = value
	case domain.FieldDescription:
		x.fields.Description = value
	case domain.FieldInstructions:
		x.fields.Instructions = value
	case domain.FieldCuisine:
		x.fields.Cuisine = value
	case domain.FieldMealCategory:
		x.fields.MealCategory = value
	default:
		return
	}
	x.confidence[f] = conf
}

func (x *extraction) setLines(lines []string, conf float64) {
	if x.has(domain.FieldIngredients) {
		return
	}
	var cleaned []string
	for _, l := range lines {
		if l = cleanText(l); l != "" {
			cleaned = append(cleaned, l)
		}
		if len(cleaned) == maxIngredients {
			break
		}
	}
	if len(cleaned) == 0 {
		return
	}
	x.lines = cleaned
	x.confidence[domain.FieldIngredients] = conf
}

// setMinutes records a parse failure instead of a value when the text is present but unreadable.
func (x *extraction) setMinutes(f domain.Field, text string, conf float64) {
	text = cleanText(text)
	if text == "" || x.has(f) {
		return
	}
	mins, ok := parseMinutes(text)
	if !ok {
		if _, seen := x.timeErrors[f]; !seen {
			x.timeErrors[f] = text
		}
		return
	}
	delete(x.timeErrors, f)
	switch f {
	case domain.FieldPrepMinutes:
		x.fields.PrepMinutes = mins
	case domain.FieldCookMinutes:
		x.fields.CookMinutes = mins
	default:
		return
	}
	x.confidence[f] = conf
}

func (x *extraction) setServings(text string, conf float64) {
	text = cleanText(text)
	if text == "" || x.has(domain.FieldServings) {
		return
	}
	n, ok := parseServings(text)
	if !ok {
		return
	}
	x.fields.Servings = n
	x.confidence[domain.FieldServings] = conf
}

func (x *extraction) setTags(tags []string, conf float64) {
	if len(tags) == 0 || x.has(domain.FieldDietaryTags) {
		return
	}
	x.fields.DietaryTags = tags
	x.confidence[domain.FieldDietaryTags] = conf
}

func (x *extraction) incomplete(f domain.Field, detail string) {
	x.issue(f, fmt.Errorf("%w: %s", domain.ErrParseIncomplete, detail).Error())
}

// finish assigns zero confidence to empty fields and records what is missing.
func (x *extraction) finish() {
	for _, f := range domain.AllFields {
		if !x.has(f) {
			x.confidence[f] = 0
		}
	}
	if x.fields.Name == "" {
		x.incomplete(domain.FieldName, "recipe name not found")
	}
	if len(x.lines) == 0 {
		x.incomplete(domain.FieldIngredients, "no ingredient lines found")
	}
	if x.fields.Instructions == "" {
		x.incomplete(domain.FieldInstructions, "instructions not found")
	}
	for _, f := range []domain.Field{domain.FieldPrepMinutes, domain.FieldCookMinutes} {
		if text, ok := x.timeErrors[f]; ok {
			x.incomplete(f, fmt.Sprintf("could not read duration %q", text))
		}
	}
}
