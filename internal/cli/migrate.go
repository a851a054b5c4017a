package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/sunsreach/nerris/internal/database"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and built-in role meanings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(Plugins())
			if err != nil {
				return err
			}
			defer database.Close(db)

			registry := services.NewMeaningRegistry(store.New(db))
			if err := registry.RegisterBuiltins(cmd.Context()); err != nil {
				return err
			}
			slog.Info("migration complete", "meanings", registry.Meanings())
			return nil
		},
	}
}
