package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"RecipeAcquisition/internal/domain"
)

const usageCountColumn = "(SELECT COUNT(*) FROM recipe_ingredients ri WHERE ri.ingredient_id = i.id)"

func (q *queries) selectIngredients() sq.SelectBuilder {
	return q.sb.Select("i.id", "i.name", "i.normalized_name", "i.category", "i.created_at", usageCountColumn).
		From("ingredients i")
}

// ListIngredients returns the whole catalog with aliases and usage counts.
func (q *queries) ListIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	return q.loadIngredients(ctx, q.selectIngredients().OrderBy("i.id"))
}

// FindIngredientsByNormalizedName returns catalog entries whose normalized name is in names.
func (q *queries) FindIngredientsByNormalizedName(ctx context.Context, names ...string) ([]domain.Ingredient, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return q.loadIngredients(ctx, q.selectIngredients().Where(sq.Eq{"i.normalized_name": names}).OrderBy("i.id"))
}

// GetIngredient loads one ingredient or returns ErrNotFound.
func (q *queries) GetIngredient(ctx context.Context, ingredientID int64) (domain.Ingredient, error) {
	found, err := q.loadIngredients(ctx, q.selectIngredients().Where(sq.Eq{"i.id": ingredientID}))
	if err != nil {
		return domain.Ingredient{}, err
	}
	if len(found) == 0 {
		return domain.Ingredient{}, fmt.Errorf("ingredient %d: %w", ingredientID, domain.ErrNotFound)
	}
	return found[0], nil
}

func (q *queries) loadIngredients(ctx context.Context, b sq.SelectBuilder) ([]domain.Ingredient, error) {
	rows, err := q.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query ingredients: %w", err)
	}
	defer rows.Close()

	var (
		out   []domain.Ingredient
		ids   []int64
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			ing     domain.Ingredient
			created string
		)
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.NormalizedName, &ing.Category, &created, &ing.UsageCount); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		ing.CreatedAt = parseTime(created)
		index[ing.ID] = len(out)
		ids = append(ids, ing.ID)
		out = append(out, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close ingredient rows: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	aliasRows, err := q.query(ctx, q.sb.Select("ingredient_id", "alias").
		From("ingredient_aliases").
		Where(sq.Eq{"ingredient_id": ids}).
		OrderBy("ingredient_id", "alias"))
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var (
			id    int64
			alias string
		)
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		if i, ok := index[id]; ok {
			out[i].Aliases = append(out[i].Aliases, alias)
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return out, nil
}

// InsertIngredient adds a catalog entry. A duplicate normalized name is a CatalogConflict.
func (q *queries) InsertIngredient(ctx context.Context, ing domain.Ingredient) (int64, error) {
	if ing.NormalizedName == "" {
		return 0, domain.Invalid("ingredient %q has no normalized name", ing.Name)
	}
	created := ing.CreatedAt
	if created.IsZero() {
		created = q.now()
	}
	id, err := q.insertReturningID(ctx, q.sb.Insert("ingredients").
		Columns("name", "normalized_name", "category", "created_at").
		Values(ing.Name, ing.NormalizedName, ing.Category, formatTime(created)))
	if err != nil {
		return 0, fmt.Errorf("insert ingredient %q: %w", ing.Name, err)
	}
	for _, alias := range ing.Aliases {
		if err := q.AddIngredientAlias(ctx, id, alias); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// AddIngredientAlias records an alternative name; repeating an alias is a no-op.
func (q *queries) AddIngredientAlias(ctx context.Context, ingredientID int64, alias string) error {
	_, err := q.exec(ctx, q.sb.Insert("ingredient_aliases").
		Columns("ingredient_id", "alias").
		Values(ingredientID, alias).
		Suffix("ON CONFLICT (ingredient_id, alias) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("add alias %q to %d: %w", alias, ingredientID, err)
	}
	return nil
}

// DeleteIngredient removes an ingredient; it fails while recipe links still reference it.
func (q *queries) DeleteIngredient(ctx context.Context, ingredientID int64) error {
	res, err := q.exec(ctx, q.sb.Delete("ingredients").Where(sq.Eq{"id": ingredientID}))
	if err != nil {
		return fmt.Errorf("delete ingredient %d: %w", ingredientID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("ingredient %d: %w", ingredientID, domain.ErrNotFound)
	}
	return nil
}

// InsertRecipe stores a committed recipe and returns its id.
func (q *queries) InsertRecipe(ctx context.Context, recipe domain.Recipe) (int64, error) {
	fields, err := json.Marshal(recipe.Fields)
	if err != nil {
		return 0, fmt.Errorf("marshal recipe fields: %w", err)
	}
	created := recipe.CreatedAt
	if created.IsZero() {
		created = q.now()
	}
	id, err := q.insertReturningID(ctx, q.sb.Insert("recipes").
		Columns("draft_id", "source_url", "name", "fields_json", "created_at").
		Values(recipe.DraftID, recipe.SourceURL, recipe.Fields.Name, string(fields), formatTime(created)))
	if err != nil {
		return 0, fmt.Errorf("insert recipe %q: %w", recipe.Fields.Name, err)
	}
	return id, nil
}

// GetRecipe loads a committed recipe with its ingredient links in line order.
func (q *queries) GetRecipe(ctx context.Context, recipeID int64) (domain.Recipe, []domain.RecipeIngredientLink, error) {
	row, err := q.queryRow(ctx, q.sb.Select("id", "draft_id", "source_url", "fields_json", "created_at").
		From("recipes").
		Where(sq.Eq{"id": recipeID}))
	if err != nil {
		return domain.Recipe{}, nil, err
	}
	var (
		r       domain.Recipe
		fields  string
		created string
	)
	if err := row.Scan(&r.ID, &r.DraftID, &r.SourceURL, &fields, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Recipe{}, nil, fmt.Errorf("recipe %d: %w", recipeID, domain.ErrNotFound)
		}
		return domain.Recipe{}, nil, fmt.Errorf("get recipe: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
		return domain.Recipe{}, nil, fmt.Errorf("decode recipe fields: %w", err)
	}
	r.CreatedAt = parseTime(created)

	links, err := q.loadLinks(ctx, q.selectLinks().Where(sq.Eq{"recipe_id": recipeID}).OrderBy("line_order"))
	if err != nil {
		return domain.Recipe{}, nil, err
	}
	return r, links, nil
}

// UpsertRecipeIngredientLinks writes links for a recipe, replacing rows with the same ingredient.
func (q *queries) UpsertRecipeIngredientLinks(ctx context.Context, recipeID int64, links []domain.RecipeIngredientLink) error {
	for _, l := range links {
		var quantity any
		if l.Quantity != nil {
			quantity = *l.Quantity
		}
		_, err := q.exec(ctx, q.sb.Insert("recipe_ingredients").
			Columns("recipe_id", "ingredient_id", "quantity", "unit", "note", "line_order").
			Values(recipeID, l.IngredientID, quantity, l.Unit, l.Note, l.Order).
			Suffix("ON CONFLICT (recipe_id, ingredient_id) DO UPDATE SET " +
				"quantity = excluded.quantity, unit = excluded.unit, note = excluded.note, line_order = excluded.line_order"))
		if err != nil {
			return fmt.Errorf("link recipe %d to ingredient %d: %w", recipeID, l.IngredientID, err)
		}
	}
	return nil
}

func (q *queries) selectLinks() sq.SelectBuilder {
	return q.sb.Select("recipe_id", "ingredient_id", "quantity", "unit", "note", "line_order").From("recipe_ingredients")
}

func (q *queries) loadLinks(ctx context.Context, b sq.SelectBuilder) ([]domain.RecipeIngredientLink, error) {
	rows, err := q.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query recipe links: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipeIngredientLink
	for rows.Next() {
		var (
			l        domain.RecipeIngredientLink
			quantity sql.NullFloat64
		)
		if err := rows.Scan(&l.RecipeID, &l.IngredientID, &quantity, &l.Unit, &l.Note, &l.Order); err != nil {
			return nil, fmt.Errorf("scan recipe link: %w", err)
		}
		if quantity.Valid {
			v := quantity.Float64
			l.Quantity = &v
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe links: %w", err)
	}
	return out, nil
}

// CountRecipeLinksForIngredient returns how many recipes reference the ingredient.
func (q *queries) CountRecipeLinksForIngredient(ctx context.Context, ingredientID int64) (int, error) {
	row, err := q.queryRow(ctx, q.sb.Select("COUNT(*)").From("recipe_ingredients").Where(sq.Eq{"ingredient_id": ingredientID}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}

// ListRecipeLinksForIngredient returns every link that references the ingredient.
func (q *queries) ListRecipeLinksForIngredient(ctx context.Context, ingredientID int64) ([]domain.RecipeIngredientLink, error) {
	return q.loadLinks(ctx, q.selectLinks().Where(sq.Eq{"ingredient_id": ingredientID}).OrderBy("recipe_id"))
}

// RetargetRecipeLink moves one recipe link from one ingredient to another.
func (q *queries) RetargetRecipeLink(ctx context.Context, recipeID, fromID, toID int64) error {
	res, err := q.exec(ctx, q.sb.Update("recipe_ingredients").
		Set("ingredient_id", toID).
		Where(sq.Eq{"recipe_id": recipeID, "ingredient_id": fromID}))
	if err != nil {
		return fmt.Errorf("retarget link: %w", err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("link %d/%d: %w", recipeID, fromID, domain.ErrNotFound)
	}
	return nil
}

// DeleteRecipeLink removes one recipe link.
func (q *queries) DeleteRecipeLink(ctx context.Context, recipeID, ingredientID int64) error {
	_, err := q.exec(ctx, q.sb.Delete("recipe_ingredients").Where(sq.Eq{"recipe_id": recipeID, "ingredient_id": ingredientID}))
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

// InsertMergeOperation records a completed merge.
func (q *queries) InsertMergeOperation(ctx context.Context, op domain.MergeOperation) (int64, error) {
	executed := op.ExecutedAt
	if executed.IsZero() {
		executed = q.now()
	}
	id, err := q.insertReturningID(ctx, q.sb.Insert("merge_operations").
		Columns("source_ingredient_id", "target_ingredient_id", "source_name", "initiated_by",
			"affected_links", "duplicates_discarded", "executed_at").
		Values(op.SourceIngredientID, op.TargetIngredientID, op.SourceName, op.InitiatedBy,
			op.AffectedRecipeLinkCount, op.DuplicatesDiscarded, formatTime(executed)))
	if err != nil {
		return 0, fmt.Errorf("insert merge operation: %w", err)
	}
	return id, nil
}

// ListMergeOperations returns the most recent merges first.
func (q *queries) ListMergeOperations(ctx context.Context, limit int) ([]domain.MergeOperation, error) {
	b := q.sb.Select("id", "source_ingredient_id", "target_ingredient_id", "source_name", "initiated_by",
		"affected_links", "duplicates_discarded", "executed_at").
		From("merge_operations").
		OrderBy("id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := q.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query merges: %w", err)
	}
	defer rows.Close()

	var out []domain.MergeOperation
	for rows.Next() {
		var (
			op       domain.MergeOperation
			executed string
		)
		if err := rows.Scan(&op.ID, &op.SourceIngredientID, &op.TargetIngredientID, &op.SourceName, &op.InitiatedBy,
			&op.AffectedRecipeLinkCount, &op.DuplicatesDiscarded, &executed); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		op.ExecutedAt = parseTime(executed)
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merges: %w", err)
	}
	return out, nil
}

// MergedInto reports the ingredient a deleted id was merged into.
func (q *queries) MergedInto(ctx context.Context, ingredientID int64) (int64, bool, error) {
	row, err := q.queryRow(ctx, q.sb.Select("target_ingredient_id").
		From("merge_operations").
		Where(sq.Eq{"source_ingredient_id": ingredientID}).
		OrderBy("id DESC").
		Limit(1))
	if err != nil {
		return 0, false, err
	}
	var target int64
	if err := row.Scan(&target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("merged into: %w", err)
	}
	return target, true, nil
}
