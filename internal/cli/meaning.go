package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sunsreach/nerris/internal/database"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

func newMeaningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meaning",
		Short: "Manage role meanings",
	}

	var suppress bool
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a role meaning guilds can bind roles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(Plugins())
			if err != nil {
				return err
			}
			defer database.Close(db)

			registry := services.NewMeaningRegistry(store.New(db))
			if err := registry.Load(cmd.Context()); err != nil {
				return err
			}
			id, err := registry.Register(cmd.Context(), args[0], suppress)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", services.NormalizeMeaning(args[0]), id)
			return nil
		},
	}
	register.Flags().BoolVar(&suppress, "suppress", false, "succeed when the meaning already exists")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered role meanings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(Plugins())
			if err != nil {
				return err
			}
			defer database.Close(db)

			registry := services.NewMeaningRegistry(store.New(db))
			if err := registry.Load(cmd.Context()); err != nil {
				return err
			}
			for _, m := range registry.Meanings() {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}

	cmd.AddCommand(register, list)
	return cmd
}
