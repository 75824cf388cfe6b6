package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"RecipeAcquisition/internal/domain"
)

const schemaConfidence = 1.0

// jsonLDStrategy reads schema.org Recipe objects from application/ld+json blocks.
type jsonLDStrategy struct{}

func (jsonLDStrategy) name() string { return "json-ld" }

func (jsonLDStrategy) apply(doc *goquery.Document, _ string, out *extraction) {
	var recipe map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			out.issue("", fmt.Sprintf("ignored malformed json-ld block: %v", err))
			return true
		}
		recipe = findRecipeNode(payload, 0)
		return recipe == nil
	})
	if recipe == nil {
		return
	}

	out.setText(domain.FieldName, cleanText(firstString(recipe["name"])), schemaConfidence)
	out.setText(domain.FieldDescription, cleanText(firstString(recipe["description"])), schemaConfidence)

	lines := stringList(recipe["recipeIngredient"])
	if len(lines) == 0 {
		lines = stringList(recipe["ingredients"])
	}
	out.setLines(lines, schemaConfidence)

	out.setText(domain.FieldInstructions, strings.Join(instructionSteps(recipe["recipeInstructions"], 0), "\n"), schemaConfidence)

	out.setMinutes(domain.FieldPrepMinutes, firstString(recipe["prepTime"]), schemaConfidence)
	out.setMinutes(domain.FieldCookMinutes, firstString(recipe["cookTime"]), schemaConfidence)
	out.setServings(firstString(recipe["recipeYield"]), schemaConfidence)
	out.setText(domain.FieldCuisine, normalizeCuisine(firstString(recipe["recipeCuisine"])), schemaConfidence)
	out.setText(domain.FieldMealCategory, mealCategory(strings.Join(stringList(recipe["recipeCategory"]), " ")), schemaConfidence)
	out.setTags(dietTags(stringList(recipe["suitableForDiet"])), schemaConfidence)
}

const maxJSONDepth = 8

// findRecipeNode walks arrays, @graph containers and nested objects for the first Recipe.
func findRecipeNode(node any, depth int) map[string]any {
	if depth > maxJSONDepth {
		return nil
	}
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if found := findRecipeNode(item, depth+1); found != nil {
				return found
			}
		}
	case map[string]any:
		if isRecipeType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			if found := findRecipeNode(graph, depth+1); found != nil {
				return found
			}
		}
		if entity, ok := v["mainEntity"]; ok {
			if found := findRecipeNode(entity, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

func isRecipeType(t any) bool {
	for _, s := range stringList(t) {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(s, "http://schema.org/"), "https://schema.org/"), "Recipe") {
			return true
		}
	}
	return false
}

// instructionSteps flattens strings, HowToStep and HowToSection shapes into step lines.
func instructionSteps(node any, depth int) []string {
	if depth > maxJSONDepth {
		return nil
	}
	switch v := node.(type) {
	case string:
		text := cleanBlock(v)
		if text == "" {
			return nil
		}
		return strings.Split(text, "\n")
	case []any:
		var steps []string
		for _, item := range v {
			steps = append(steps, instructionSteps(item, depth+1)...)
		}
		return steps
	case map[string]any:
		if items, ok := v["itemListElement"]; ok {
			return instructionSteps(items, depth+1)
		}
		if text := cleanText(firstString(v["text"])); text != "" {
			return []string{text}
		}
		if name := cleanText(firstString(v["name"])); name != "" {
			return []string{name}
		}
	}
	return nil
}

// firstString returns the first scalar value of a string, number, array or {"@value"} node.
func firstString(node any) string {
	list := stringList(node)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func stringList(node any) []string {
	switch v := node.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	case float64:
		return []string{fmt.Sprintf("%g", v)}
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, stringList(item)...)
		}
		return out
	case map[string]any:
		if value, ok := v["@value"]; ok {
			return stringList(value)
		}
		if id, ok := v["@id"].(string); ok {
			return []string{id}
		}
		if name, ok := v["name"].(string); ok {
			return []string{name}
		}
	}
	return nil
}
