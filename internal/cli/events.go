package cli

import (
	"surveyor/internal/model"

	"github.com/spf13/cobra"
)

func newEventsCmd(app *App) *cobra.Command {
	var (
		limit  int
		survey int64
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event log of committed writes",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events (oldest-first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			evs, err := be.ReadEvents(cmd.Context(), model.ID(survey), limit)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": evs})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 200, "Max events to return (0 = all)")
	listCmd.Flags().Int64Var(&survey, "survey", 0, "Only events of this survey")

	cmd.AddCommand(listCmd)
	return cmd
}
