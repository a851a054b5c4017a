// Package cli builds the command tree shared by every bot binary.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/apps/nsverify"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/database"
	"github.com/sunsreach/nerris/internal/logging"
	"github.com/sunsreach/nerris/internal/persona"
	"gorm.io/gorm"
)

// NewRootCommand returns the root command for a persona.
func NewRootCommand(p persona.Persona) *cobra.Command {
	root := &cobra.Command{
		Use:           p.Product,
		Short:         p.Name + " verifies NationStates nations for Discord servers",
		Version:       p.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup()
		},
	}
	root.AddCommand(
		newServeCommand(p),
		newMigrateCommand(),
		newMeaningCommand(),
		newAdminTokenCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute(p persona.Persona) {
	if err := NewRootCommand(p).Execute(); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Plugins lists the bot extensions every persona loads.
func Plugins() []apps.Plugin {
	return []apps.Plugin{
		nsverify.New(),
	}
}

// openDatabase loads the configuration, connects and migrates shared and
// plugin models.
func openDatabase(plugins []apps.Plugin) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate(db, plugins); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrate(db *gorm.DB, plugins []apps.Plugin) error {
	if err := database.MigrateShared(db); err != nil {
		return fmt.Errorf("shared migration failed: %w", err)
	}
	for _, p := range plugins {
		if models := p.Models(); len(models) > 0 {
			if err := database.MigrateModels(db, models); err != nil {
				return fmt.Errorf("plugin %s migration failed: %w", p.ID(), err)
			}
			slog.Info("plugin migrated", "plugin", p.ID(), "models", len(models))
		}
	}
	return nil
}
