package resolver

import (
	"regexp"
	"strconv"
	"strings"
)

const vulgarFractions = "½⅓⅔¼¾⅕⅖⅗⅘⅙⅚⅛⅜⅝⅞"

var vulgarValues = map[rune]float64{
	'½': 1.0 / 2, '⅓': 1.0 / 3, '⅔': 2.0 / 3, '¼': 1.0 / 4, '¾': 3.0 / 4,
	'⅕': 1.0 / 5, '⅖': 2.0 / 5, '⅗': 3.0 / 5, '⅘': 4.0 / 5, '⅙': 1.0 / 6,
	'⅚': 5.0 / 6, '⅛': 1.0 / 8, '⅜': 3.0 / 8, '⅝': 5.0 / 8, '⅞': 7.0 / 8,
}

const singleQuantity = `\d+\s+\d+/\d+|\d+/\d+|\d+\s*[` + vulgarFractions + `]|[` + vulgarFractions + `]|\d+(?:\.\d+)?`

// quantityExpr matches a leading quantity. Ranges capture only their first value.
var quantityExpr = regexp.MustCompile(`^(` + singleQuantity + `)(?:\s*(?:-|–|—|to)\s*(?:` + singleQuantity + `))?`)

var (
	parentheticalExpr = regexp.MustCompile(`\(([^()]*)\)`)
	spaceExpr         = regexp.MustCompile(`\s+`)
	optionalExpr      = regexp.MustCompile(`(?i)\boptional\b`)
	toTasteExpr       = regexp.MustCompile(`(?i)\b(?:or\s+)?to\s+taste\b`)
)

// letterUnits are single-letter spoon abbreviations whose case carries the unit.
var letterUnits = map[string]string{"T": "tbsp", "t": "tsp"}

// DefaultUnits is the unit vocabulary used when none is configured.
var DefaultUnits = []string{
	"cup", "cups", "c",
	"tablespoon", "tablespoons", "tbsp", "tbs", "tbl",
	"teaspoon", "teaspoons", "tsp",
	"fluid ounce", "fluid ounces", "fl oz", "fl-oz",
	"ounce", "ounces", "oz",
	"pound", "pounds", "lb", "lbs",
	"gram", "grams", "g",
	"kilogram", "kilograms", "kg",
	"milliliter", "milliliters", "millilitre", "millilitres", "ml",
	"liter", "liters", "litre", "litres", "l",
	"pint", "pints", "pt",
	"quart", "quarts", "qt",
	"gallon", "gallons", "gal",
	"pinch", "pinches", "dash", "dashes",
	"clove", "cloves", "slice", "slices", "piece", "pieces", "pc", "pcs",
	"can", "cans", "package", "packages", "pkg", "jar", "jars",
	"stick", "sticks", "bunch", "bunches", "sprig", "sprigs",
	"handful", "handfuls", "head", "heads",
}

// ParsedLine is the pattern-based decomposition of one ingredient line.
type ParsedLine struct {
	Quantity *float64
	Unit     string
	Name     string
	Note     string
	Optional bool
}

// LineParser splits ingredient lines into quantity, unit, name and note.
type LineParser struct {
	units    map[string]struct{}
	maxWords int
}

// NewLineParser builds a parser over the given unit vocabulary; nil selects DefaultUnits.
func NewLineParser(units []string) *LineParser {
	if len(units) == 0 {
		units = DefaultUnits
	}
	p := &LineParser{units: make(map[string]struct{}, len(units)), maxWords: 1}
	for _, u := range units {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		p.units[u] = struct{}{}
		if n := len(strings.Fields(u)); n > p.maxWords {
			p.maxWords = n
		}
	}
	return p
}

// Parse never fails: unrecognized parts are left empty and the remainder becomes the name.
func (p *LineParser) Parse(raw string) ParsedLine {
	var out ParsedLine

	rest := spaceExpr.ReplaceAllString(strings.TrimSpace(raw), " ")
	rest = strings.TrimLeft(rest, "-•*▢· ")

	var notes []string

	if loc := quantityExpr.FindStringSubmatchIndex(rest); loc != nil {
		if q, ok := parseQuantity(rest[loc[2]:loc[3]]); ok {
			out.Quantity = &q
			rest = strings.TrimSpace(rest[loc[1]:])
		}
	}

	if out.Quantity != nil {
		if strings.HasPrefix(rest, "(") {
			if end := strings.Index(rest, ")"); end > 0 {
				notes = append(notes, strings.TrimSpace(rest[1:end]))
				rest = strings.TrimSpace(rest[end+1:])
			}
		}
		rest = p.takeUnit(rest, &out)
	}

	name := rest
	if idx := strings.Index(rest, ","); idx >= 0 {
		name = rest[:idx]
		if tail := strings.TrimSpace(rest[idx+1:]); tail != "" {
			notes = append(notes, tail)
		}
	}

	for _, m := range parentheticalExpr.FindAllStringSubmatch(name, -1) {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			notes = append(notes, inner)
		}
	}
	name = parentheticalExpr.ReplaceAllString(name, " ")

	if toTasteExpr.MatchString(name) {
		out.Optional = true
		name = toTasteExpr.ReplaceAllString(name, " ")
		notes = append(notes, "to taste")
	}
	if optionalExpr.MatchString(name) {
		out.Optional = true
		name = optionalExpr.ReplaceAllString(name, " ")
	}

	out.Note = strings.Join(notes, "; ")
	if optionalExpr.MatchString(out.Note) || toTasteExpr.MatchString(out.Note) {
		out.Optional = true
	}
	out.Name = strings.Trim(spaceExpr.ReplaceAllString(strings.TrimSpace(name), " "), " .;:-")
	return out
}

func (p *LineParser) takeUnit(rest string, out *ParsedLine) string {
	tokens := strings.Fields(rest)
	if len(tokens) > 1 {
		if unit, ok := letterUnits[strings.TrimRight(tokens[0], ".")]; ok {
			if _, known := p.units[unit]; known {
				out.Unit = unit
				return skipOf(tokens[1:])
			}
		}
	}
	for n := min(p.maxWords, len(tokens)-1); n >= 1; n-- {
		candidate := strings.ToLower(strings.TrimRight(strings.Join(tokens[:n], " "), "."))
		if _, ok := p.units[candidate]; !ok {
			continue
		}
		out.Unit = candidate
		return skipOf(tokens[n:])
	}
	return rest
}

func skipOf(tokens []string) string {
	if len(tokens) > 1 && strings.EqualFold(tokens[0], "of") {
		tokens = tokens[1:]
	}
	return strings.Join(tokens, " ")
}

func parseQuantity(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	runes := []rune(text)
	if v, ok := vulgarValues[runes[len(runes)-1]]; ok {
		whole := strings.TrimSpace(string(runes[:len(runes)-1]))
		if whole == "" {
			return v, true
		}
		n, err := strconv.ParseFloat(whole, 64)
		if err != nil {
			return 0, false
		}
		return n + v, true
	}

	if fields := strings.Fields(text); len(fields) == 2 {
		whole, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, false
		}
		frac, ok := parseFraction(fields[1])
		if !ok {
			return 0, false
		}
		return whole + frac, true
	}

	if strings.Contains(text, "/") {
		return parseFraction(text)
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFraction(text string) (float64, bool) {
	num, den, ok := strings.Cut(text, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}
