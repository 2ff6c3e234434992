package cli

import (
	"surveyor/internal/store"

	"github.com/spf13/cobra"
)

func newInitCmd(app *App) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the local store (.surveyor/surveyor.sqlite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.resolveDir()
			if err != nil {
				return writeErr(cmd, err)
			}
			st, err := store.Open(cmd.Context(), dir, app.logger())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			id, err := st.ID(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}

			// Remember the dir so later commands work from anywhere.
			if save {
				app.cfg.Dir = dir
				if err := store.SaveConfig(app.cfg); err != nil {
					return writeErr(cmd, err)
				}
			}

			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"dir":        dir,
					"sqlitePath": st.Path(),
					"storeId":    id,
				},
				"_hints": []string{
					`surveyor surveys create --title "My survey"`,
				},
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Record the store dir in the user config")
	return cmd
}
