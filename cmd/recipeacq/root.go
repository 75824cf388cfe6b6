package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"RecipeAcquisition/internal/app"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/logging"
)

type commandContext struct {
	configFlag *string
	userFlag   *string
}

func (c *commandContext) config() config.Config {
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		return config.LoadFrom(strings.TrimSpace(*c.configFlag))
	}
	return config.Load()
}

func (c *commandContext) user() string {
	if c.userFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.userFlag)
}

// withApp builds the application, runs fn and closes it again.
func (c *commandContext) withApp(ctx context.Context, fn func(*app.Application, *slog.Logger) error) error {
	cfg := c.config()
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, nil)
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()
	return fn(application, logger)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var userFlag string
	ctx := &commandContext{configFlag: &configFlag, userFlag: &userFlag}

	rootCmd := &cobra.Command{
		Use:           "recipeacq",
		Short:         "Recipe acquisition pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "cli", "User the requests are made on behalf of")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newScrapeCommand(ctx))
	rootCmd.AddCommand(newDraftsCommand(ctx))
	rootCmd.AddCommand(newIngredientsCommand(ctx))
	rootCmd.AddCommand(newMaintenanceCommand(ctx))

	return rootCmd
}
