package parser

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxServings    = 50
	maxTextRunes   = 20000
	maxIngredients = 200
)

var (
	isoDurationExpr = regexp.MustCompile(`(?i)^P(?:(\d+)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
	clockExpr       = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	hoursExpr       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:h|hr|hrs|hour|hours)\b`)
	unitDigitExpr   = regexp.MustCompile(`([A-Za-z])(\d)`)
	minutesExpr     = regexp.MustCompile(`(?i)(\d+)\s*(?:m|min|mins|minute|minutes)\b`)
	bareNumberExpr  = regexp.MustCompile(`^\d+$`)
	firstIntExpr    = regexp.MustCompile(`\d+`)
	whitespaceExpr  = regexp.MustCompile(`[ \t\r\f\v]+`)
	wordExpr        = regexp.MustCompile(`[a-z]+`)
)

// parseMinutes understands ISO-8601 durations, "1 hour 30 mins", "1:30" and bare minutes.
func parseMinutes(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	if m := isoDurationExpr.FindStringSubmatch(text); m != nil && len(text) > 1 {
		days := atof(m[1])
		hours := atof(m[2])
		mins := atof(m[3])
		secs := atof(m[4])
		total := int(days*24*60 + hours*60 + mins + secs/60 + 0.5)
		return total, total > 0
	}

	if m := clockExpr.FindStringSubmatch(text); m != nil {
		total := int(atof(m[1]))*60 + int(atof(m[2]))
		return total, total > 0
	}

	if bareNumberExpr.MatchString(text) {
		total := int(atof(text))
		return total, total > 0
	}

	// "1h30m" and "1hr30min" have no boundary between the hour unit and the minutes.
	text = unitDigitExpr.ReplaceAllString(text, "$1 $2")

	total := 0.0
	found := false
	for _, m := range hoursExpr.FindAllStringSubmatch(text, -1) {
		total += atof(m[1]) * 60
		found = true
	}
	for _, m := range minutesExpr.FindAllStringSubmatch(text, -1) {
		total += atof(m[1])
		found = true
	}
	if !found || total <= 0 {
		return 0, false
	}
	return int(total + 0.5), true
}

// parseServings takes the first integer of a yield text when it is in range.
func parseServings(text string) (int, bool) {
	m := firstIntExpr.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > maxServings {
		return 0, false
	}
	return n, true
}

var cuisineAliases = []struct {
	name  string
	words []string
}{
	{"American", []string{"american", "usa", "us"}},
	{"Italian", []string{"italian", "italia"}},
	{"Mexican", []string{"mexican", "mexico"}},
	{"Chinese", []string{"chinese", "china"}},
	{"Indian", []string{"indian", "india"}},
	{"French", []string{"french", "france"}},
	{"Thai", []string{"thai", "thailand"}},
	{"Japanese", []string{"japanese", "japan"}},
	{"Mediterranean", []string{"mediterranean", "med"}},
}

// normalizeCuisine maps common spellings onto a canonical cuisine; unknown values are title-cased.
func normalizeCuisine(text string) string {
	text = cleanText(text)
	if text == "" {
		return ""
	}
	words := wordExpr.FindAllString(strings.ToLower(text), -1)
	for _, c := range cuisineAliases {
		for _, alias := range c.words {
			for _, w := range words {
				if w == alias {
					return c.name
				}
			}
		}
	}
	return titleCase(text)
}

var mealCategories = []struct {
	name     string
	keywords []string
}{
	{"breakfast", []string{"breakfast", "brunch"}},
	{"lunch", []string{"lunch"}},
	{"dinner", []string{"dinner", "supper", "main"}},
	{"snack", []string{"snack", "appetizer"}},
	{"dessert", []string{"dessert", "sweet", "cake", "cookie"}},
}

// mealCategory maps a free-text category onto one of the known meal categories.
func mealCategory(text string) string {
	text = strings.ToLower(cleanText(text))
	if text == "" {
		return ""
	}
	for _, c := range mealCategories {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.name
			}
		}
	}
	return ""
}

// dietTag turns schema.org diet identifiers such as https://schema.org/VeganDiet into "vegan".
func dietTag(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.LastIndexAny(value, "/#"); i >= 0 {
		value = value[i+1:]
	}
	value = strings.TrimSuffix(value, "Diet")
	if value == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range value {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('-')
		}
		if r == ' ' || r == '_' {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Trim(strings.ReplaceAll(b.String(), "--", "-"), "-")
}

func dietTags(values []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, v := range values {
		tag := dietTag(v)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// cleanText strips markup, unescapes entities and collapses whitespace to a single line.
func cleanText(s string) string {
	s = stripTags(s)
	return strings.Join(strings.Fields(s), " ")
}

// cleanBlock is like cleanText but keeps line breaks.
func cleanBlock(s string) string {
	s = stripTags(s)
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(whitespaceExpr.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return truncate(strings.Join(out, "\n"))
}

func stripTags(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + s + "</div>")); err == nil {
			s = doc.Find("div").First().Text()
		}
	}
	return html.UnescapeString(s)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTextRunes {
		return s
	}
	return string(r[:maxTextRunes])
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}

func atof(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
