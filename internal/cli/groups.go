package cli

import (
	"surveyor/internal/model"

	"github.com/spf13/cobra"
)

func newGroupsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Add, rename, reorder and delete question groups",
	}
	cmd.AddCommand(newGroupsAddCmd(app))
	cmd.AddCommand(newGroupsRenameCmd(app))
	cmd.AddCommand(newGroupsMoveCmd(app))
	cmd.AddCommand(newGroupsDeleteCmd(app))
	return cmd
}

func newGroupsAddCmd(app *App) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add <survey-id>",
		Short: "Append a group to a survey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditor(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			g, err := e.AddGroup(cmd.Context(), title)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": g})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Group title (default: Untitled group)")
	return cmd
}

func newGroupsRenameCmd(app *App) *cobra.Command {
	var (
		title  string
		survey int64
	)
	cmd := &cobra.Command{
		Use:   "rename <group-id>",
		Short: "Change a group's title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("group id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "group", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.RenameGroup(cmd.Context(), id, title); err != nil {
				return writeErr(cmd, err)
			}
			return writeGroup(cmd, app, e.Snapshot(), id)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	_ = cmd.MarkFlagRequired("title")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newGroupsMoveCmd(app *App) *cobra.Command {
	var (
		position int
		survey   int64
	)
	cmd := &cobra.Command{
		Use:   "move <group-id>",
		Short: "Move a group to a 1-based position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("group id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "group", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.MoveGroup(cmd.Context(), id, position); err != nil {
				return writeErr(cmd, err)
			}
			return writeGroup(cmd, app, e.Snapshot(), id)
		},
	}
	cmd.Flags().IntVar(&position, "position", 1, "Target position (clamped to the group count)")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newGroupsDeleteCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group with its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("group id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "group", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.DeleteGroup(cmd.Context(), id); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"deleted": id}})
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}

func addSurveyFlag(cmd *cobra.Command, dst *int64) {
	cmd.Flags().Int64Var(dst, "survey", 0, "Owning survey id (skips the lookup)")
}

func writeGroup(cmd *cobra.Command, app *App, sv model.Survey, id model.ID) error {
	g, _ := sv.FindGroup(id)
	if g == nil {
		return writeOut(cmd, app, map[string]any{"data": nil})
	}
	return writeOut(cmd, app, map[string]any{"data": g})
}
