package resolver

import "strings"

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"protein", []string{"chicken", "beef", "pork", "lamb", "turkey", "fish", "salmon", "tuna", "shrimp", "egg", "tofu", "bean", "lentil"}},
	{"vegetable", []string{"onion", "garlic", "carrot", "celery", "tomato", "potato", "pepper", "broccoli", "spinach", "lettuce", "cucumber", "mushroom", "zucchini"}},
	{"fruit", []string{"apple", "banana", "orange", "lemon", "lime", "berry", "strawberry", "blueberry", "grape", "cherry", "peach", "pear", "avocado"}},
	{"dairy", []string{"milk", "butter", "cheese", "cream", "yogurt", "sour cream", "cottage cheese", "ricotta", "mozzarella", "cheddar", "parmesan"}},
	{"grain", []string{"flour", "rice", "pasta", "bread", "oat", "barley", "wheat", "quinoa", "couscous", "bulgur", "cornmeal", "semolina"}},
	{"seasoning", []string{"salt", "black pepper", "garlic powder", "onion powder", "paprika", "cumin", "oregano", "basil", "thyme", "rosemary", "sage", "parsley"}},
	{"oil", []string{"oil", "olive oil", "vegetable oil", "coconut oil", "canola oil", "sesame oil", "avocado oil", "sunflower oil"}},
	{"sweetener", []string{"sugar", "honey", "maple syrup", "brown sugar", "powdered sugar", "corn syrup", "agave", "stevia", "molasses"}},
	{"condiment", []string{"ketchup", "mustard", "mayonnaise", "soy sauce", "vinegar", "hot sauce", "worcestershire", "bbq sauce", "ranch"}},
}

// Categorize guesses a catalog category for a new ingredient. The longest keyword wins.
func Categorize(name string) string {
	padded := " " + Normalize(name) + " "
	best, bestLen := "", 0
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			key := Normalize(kw)
			if len(key) > bestLen && strings.Contains(padded, " "+key+" ") {
				best, bestLen = group.category, len(key)
			}
		}
	}
	return best
}
