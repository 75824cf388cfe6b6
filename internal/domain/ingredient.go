package domain

import "time"

// Ingredient is a canonical catalog entry shared by all recipes.
type Ingredient struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalizedName"`
	Category       string    `json:"category,omitempty"`
	Aliases        []string  `json:"aliases,omitempty"`
	UsageCount     int       `json:"usageCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CandidateStatus is the resolution state of one ingredient line.
type CandidateStatus string

const (
	CandidateUnresolved     CandidateStatus = "unresolved"
	CandidateMatched        CandidateStatus = "matched"
	CandidateCreatedNew     CandidateStatus = "created_new"
	CandidateUserOverridden CandidateStatus = "user_overridden"
)

// Resolved reports whether the candidate may be committed.
func (s CandidateStatus) Resolved() bool {
	switch s {
	case CandidateMatched, CandidateCreatedNew, CandidateUserOverridden:
		return true
	default:
		return false
	}
}

// MatchSuggestion is a catalog entry offered to the reviewer for one line.
type MatchSuggestion struct {
	IngredientID int64   `json:"ingredientId,omitempty"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	UsageCount   int     `json:"usageCount"`
	Source       string  `json:"source,omitempty"`
}

// IngredientCandidate pairs a raw ingredient line with its parsed parts and match decision.
type IngredientCandidate struct {
	Order               int               `json:"order"`
	RawLine             string            `json:"rawLine"`
	Quantity            *float64          `json:"quantity,omitempty"`
	Unit                string            `json:"unit,omitempty"`
	Name                string            `json:"name"`
	Note                string            `json:"note,omitempty"`
	Optional            bool              `json:"optional,omitempty"`
	MatchedIngredientID *int64            `json:"matchedIngredientId,omitempty"`
	MatchConfidence     float64           `json:"matchConfidence"`
	Status              CandidateStatus   `json:"status"`
	Suggestions         []MatchSuggestion `json:"suggestions,omitempty"`
	NewIngredientName   string            `json:"newIngredientName,omitempty"`
}

// MergeOperation records the consolidation of one ingredient into another.
type MergeOperation struct {
	ID                      int64     `json:"id"`
	SourceIngredientID      int64     `json:"sourceIngredientId"`
	TargetIngredientID      int64     `json:"targetIngredientId"`
	SourceName              string    `json:"sourceName"`
	InitiatedBy             string    `json:"initiatedBy"`
	AffectedRecipeLinkCount int       `json:"affectedRecipeLinkCount"`
	DuplicatesDiscarded     int       `json:"duplicatesDiscarded"`
	ExecutedAt              time.Time `json:"executedAt"`
}

// DuplicateGroup lists catalog entries that look like the same ingredient.
type DuplicateGroup struct {
	Ingredients []Ingredient `json:"ingredients"`
	Score       float64      `json:"score"`
}
