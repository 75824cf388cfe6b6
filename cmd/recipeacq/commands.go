package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"RecipeAcquisition/internal/app"
	"RecipeAcquisition/internal/domain"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the review API and periodic maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newScrapeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <url>",
		Short: "Fetch a recipe page and store the extracted draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				job, draft, err := a.Pipeline.Acquire(cmd.Context(), domain.FetchRequest{URL: args[0], RequestedBy: ctx.user()})
				if err != nil {
					if job.ID != "" {
						return fmt.Errorf("job %s failed (%s): %w; enter the recipe manually", job.ID, domain.Cause(err), err)
					}
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "job %s fetched draft %s (%s)\n", job.ID, draft.ID, draft.Fields.Name)
				fmt.Fprintln(out, renderCandidates(draft.Candidates))
				if draft.LowConfidence {
					fmt.Fprintln(out, "extraction confidence is low; review every field")
				}
				return nil
			})
		},
	}
}

func newDraftsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and move drafts through review",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				drafts, err := a.Workflow.List(cmd.Context(), domain.DraftStatus(status), limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(drafts))
				for _, d := range drafts {
					rows = append(rows, []string{
						d.ID,
						string(d.Status),
						d.Fields.Name,
						strconv.Itoa(d.UnresolvedCount()),
						d.UpdatedAt.Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Name", "Unresolved", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "Only drafts in this status")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of drafts")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a draft with its ingredient candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				d, err := a.Workflow.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s  [%s]\n", d.ID, d.Fields.Name, d.Status)
				if d.SourceURL != "" {
					fmt.Fprintf(out, "source: %s\n", d.SourceURL)
				}
				if d.LastError != "" {
					fmt.Fprintf(out, "last error: %s\n", d.LastError)
				}
				fmt.Fprintln(out, renderCandidates(d.Candidates))
				for _, issue := range d.Issues {
					fmt.Fprintf(out, "- %s: %s\n", issue.Field, issue.Message)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, show,
		draftAction(ctx, "open", "Start or resume the review of a draft", func(a *app.Application) draftFunc { return a.Workflow.Open }),
		draftAction(ctx, "reopen", "Send a validated draft back to review", func(a *app.Application) draftFunc { return a.Workflow.Reopen }),
		draftAction(ctx, "validate", "Validate a draft under review", func(a *app.Application) draftFunc { return a.Workflow.Validate }),
		draftAction(ctx, "reject", "Reject a draft", func(a *app.Application) draftFunc { return a.Workflow.Reject }),
		newCommitCommand(ctx),
	)
	return cmd
}

type draftFunc func(ctx context.Context, id string) (domain.RecipeDraft, error)

func draftAction(ctx *commandContext, use, short string, pick func(*app.Application) draftFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				d, err := pick(a)(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "draft %s is now %s\n", d.ID, d.Status)
				return nil
			})
		},
	}
}

func newCommitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <id>",
		Short: "Commit a validated draft into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				recipe, err := a.Workflow.Commit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "committed recipe %d (%s)\n", recipe.ID, recipe.Fields.Name)
				return nil
			})
		},
	}
}

func newIngredientsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingredients",
		Short: "Inspect and curate the ingredient catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog ingredients with usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				ingredients, err := a.Catalog.Ingredients(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderIngredients(ingredients))
				return nil
			})
		},
	}

	var threshold float64
	duplicates := &cobra.Command{
		Use:   "duplicates",
		Short: "Report likely duplicate ingredients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				groups, err := a.Catalog.Duplicates(cmd.Context(), threshold)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(groups))
				for _, g := range groups {
					names := make([]string, 0, len(g.Ingredients))
					for _, ing := range g.Ingredients {
						names = append(names, fmt.Sprintf("%s (#%d)", ing.Name, ing.ID))
					}
					rows = append(rows, []string{fmt.Sprintf("%.2f", g.Score), strings.Join(names, ", ")})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Score", "Ingredients"}, rows, []columnAlignment{alignRight, alignLeft}))
				return nil
			})
		},
	}
	duplicates.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold in (0, 1]; 0 uses the configured value")

	merge := &cobra.Command{
		Use:   "merge <source-id> <target-id>",
		Short: "Fold one ingredient into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("source id: %w", err)
			}
			target, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("target id: %w", err)
			}
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				op, err := a.Catalog.Merge(cmd.Context(), source, target, ctx.user())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "merged %q into #%d: %d links moved, %d duplicates discarded\n",
					op.SourceName, op.TargetIngredientID, op.AffectedRecipeLinkCount, op.DuplicatesDiscarded)
				return nil
			})
		},
	}

	cmd.AddCommand(list, duplicates, merge)
	return cmd
}

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run one cleanup pass over fetch state and stale jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application, _ *slog.Logger) error {
				report, err := a.RunMaintenance(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stale jobs failed: %d\n", report.JobsFailed)
				return nil
			})
		},
	}
}

func renderCandidates(candidates []domain.IngredientCandidate) string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		match := ""
		if c.MatchedIngredientID != nil {
			match = fmt.Sprintf("#%d", *c.MatchedIngredientID)
		} else if len(c.Suggestions) > 0 {
			match = "? " + c.Suggestions[0].Name
		}
		rows = append(rows, []string{
			strconv.Itoa(c.Order),
			c.RawLine,
			c.Name,
			string(c.Status),
			match,
			fmt.Sprintf("%.2f", c.MatchConfidence),
		})
	}
	return renderTable(
		[]string{"#", "Line", "Name", "Status", "Match", "Score"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func renderIngredients(ingredients []domain.Ingredient) string {
	rows := make([][]string, 0, len(ingredients))
	for _, ing := range ingredients {
		rows = append(rows, []string{
			strconv.FormatInt(ing.ID, 10),
			ing.Name,
			ing.Category,
			strconv.Itoa(ing.UsageCount),
			strings.Join(ing.Aliases, ", "),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Category", "Used", "Aliases"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
