package domain

import (
	"strings"
	"time"
)

// DraftStatus enumerates the review workflow states.
type DraftStatus string

const (
	DraftExtracted   DraftStatus = "extracted"
	DraftUnderReview DraftStatus = "under_review"
	DraftValidated   DraftStatus = "validated"
	DraftRejected    DraftStatus = "rejected"
	DraftCommitted   DraftStatus = "committed"
)

// Field names a recipe attribute that carries its own confidence.
type Field string

const (
	FieldName         Field = "name"
	FieldDescription  Field = "description"
	FieldInstructions Field = "instructions"
	FieldPrepMinutes  Field = "prepMinutes"
	FieldCookMinutes  Field = "cookMinutes"
	FieldServings     Field = "servings"
	FieldCuisine      Field = "cuisine"
	FieldMealCategory Field = "mealCategory"
	FieldDietaryTags  Field = "dietaryTags"
	FieldIngredients  Field = "ingredients"
)

// AllFields lists every field in presentation order.
var AllFields = []Field{
	FieldName,
	FieldDescription,
	FieldIngredients,
	FieldInstructions,
	FieldPrepMinutes,
	FieldCookMinutes,
	FieldServings,
	FieldCuisine,
	FieldMealCategory,
	FieldDietaryTags,
}

// RecipeFields holds the editable recipe attributes.
type RecipeFields struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Instructions string   `json:"instructions"`
	PrepMinutes  int      `json:"prepMinutes,omitempty"`
	CookMinutes  int      `json:"cookMinutes,omitempty"`
	Servings     int      `json:"servings,omitempty"`
	Cuisine      string   `json:"cuisine,omitempty"`
	MealCategory string   `json:"mealCategory,omitempty"`
	DietaryTags  []string `json:"dietaryTags,omitempty"`
}

// Empty reports whether the given field has no value.
func (f RecipeFields) Empty(field Field) bool {
	switch field {
	case FieldName:
		return strings.TrimSpace(f.Name) == ""
	case FieldDescription:
		return strings.TrimSpace(f.Description) == ""
	case FieldInstructions:
		return strings.TrimSpace(f.Instructions) == ""
	case FieldPrepMinutes:
		return f.PrepMinutes == 0
	case FieldCookMinutes:
		return f.CookMinutes == 0
	case FieldServings:
		return f.Servings == 0
	case FieldCuisine:
		return strings.TrimSpace(f.Cuisine) == ""
	case FieldMealCategory:
		return strings.TrimSpace(f.MealCategory) == ""
	case FieldDietaryTags:
		return len(f.DietaryTags) == 0
	default:
		return true
	}
}

// Issue is a non-fatal extraction or review note attached to a draft.
type Issue struct {
	Field   Field  `json:"field"`
	Message string `json:"message"`
}

// Suggestion is an alternative field value from an enrichment source. Never applied automatically.
// Ingredient suggestions carry the candidate Line they rename.
type Suggestion struct {
	Field      Field   `json:"field"`
	Line       *int    `json:"line,omitempty"`
	Value      string  `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// RecipeDraft is an extracted, not yet committed recipe moving through review.
type RecipeDraft struct {
	ID                 string                `json:"id"`
	JobID              string                `json:"jobId,omitempty"`
	SourceURL          string                `json:"sourceUrl"`
	Fields             RecipeFields          `json:"fields"`
	FieldConfidence    map[Field]float64     `json:"fieldConfidence"`
	RawIngredientLines []string              `json:"rawIngredientLines"`
	Candidates         []IngredientCandidate `json:"candidates"`
	Status             DraftStatus           `json:"status"`
	LowConfidence      bool                  `json:"lowConfidence"`
	Issues             []Issue               `json:"issues,omitempty"`
	Suggestions        []Suggestion          `json:"suggestions,omitempty"`
	LastError          string                `json:"lastError,omitempty"`
	RecipeID           int64                 `json:"recipeId,omitempty"`
	Version            int                   `json:"version"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// UnresolvedCount returns how many candidates still need a decision.
func (d RecipeDraft) UnresolvedCount() int {
	count := 0
	for _, c := range d.Candidates {
		if !c.Status.Resolved() {
			count++
		}
	}
	return count
}

// Recipe is the persisted result of a committed draft.
type Recipe struct {
	ID        int64        `json:"id"`
	DraftID   string       `json:"draftId"`
	SourceURL string       `json:"sourceUrl"`
	Fields    RecipeFields `json:"fields"`
	CreatedAt time.Time    `json:"createdAt"`
}

// RecipeIngredientLink joins a recipe to a canonical ingredient.
type RecipeIngredientLink struct {
	RecipeID     int64    `json:"recipeId"`
	IngredientID int64    `json:"ingredientId"`
	Quantity     *float64 `json:"quantity,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	Note         string   `json:"note,omitempty"`
	Order        int      `json:"order"`
}
