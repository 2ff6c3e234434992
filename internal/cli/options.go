package cli

import (
	"surveyor/internal/broadcast"
	"surveyor/internal/editor"
	"surveyor/internal/model"

	"github.com/spf13/cobra"
)

func newOptionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Add, edit, reorder and delete answer options",
	}
	cmd.AddCommand(newOptionsAddCmd(app))
	cmd.AddCommand(newOptionsEditCmd(app))
	cmd.AddCommand(newOptionsMoveCmd(app))
	cmd.AddCommand(newOptionsDeleteCmd(app))
	return cmd
}

func newOptionsAddCmd(app *App) *cobra.Command {
	var (
		text   string
		sub    bool
		survey int64
	)
	cmd := &cobra.Command{
		Use:   "add <question-id>",
		Short: "Append an option to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qid, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", qid, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			o, err := e.AddOption(cmd.Context(), qid, text, sub)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": o})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Option text (default: Option <n>)")
	cmd.Flags().BoolVar(&sub, "subquestion", false, "Add a matrix row instead of a column")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newOptionsEditCmd(app *App) *cobra.Command {
	var (
		text, image  string
		correct, sub bool
		survey       int64
	)
	cmd := &cobra.Command{
		Use:   "edit <option-id>",
		Short: "Change an option's text, image, correctness or row flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("option id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			var img *string
			if image != "" {
				img = &image
			}
			edits := []struct {
				flag  string
				field string
				value any
			}{
				{"text", editor.FieldText, text},
				{"image", editor.FieldImage, img},
				{"correct", editor.FieldIsCorrect, &correct},
				{"subquestion", editor.FieldIsSubquestion, sub},
			}
			changed := false
			for _, ed := range edits {
				changed = changed || cmd.Flags().Changed(ed.flag)
			}
			if !changed {
				return writeErr(cmd, errUsage("flags", "nothing to change"))
			}

			e, done, err := app.openEditorFor(cmd.Context(), "option", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			for _, ed := range edits {
				if !cmd.Flags().Changed(ed.flag) {
					continue
				}
				if err := e.Edit(cmd.Context(), broadcast.KindOption, id, ed.field, ed.value); err != nil {
					return writeErr(cmd, err)
				}
			}
			sv := e.Snapshot()
			o, _, _ := sv.FindOption(id)
			return writeOut(cmd, app, map[string]any{"data": o})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Option text")
	cmd.Flags().StringVar(&image, "image", "", "Image URL (empty clears)")
	cmd.Flags().BoolVar(&correct, "correct", false, "Mark as the correct quiz answer")
	cmd.Flags().BoolVar(&sub, "subquestion", false, "Treat as a matrix row")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newOptionsMoveCmd(app *App) *cobra.Command {
	var (
		position int
		survey   int64
	)
	cmd := &cobra.Command{
		Use:   "move <option-id>",
		Short: "Move an option to a 1-based position within its question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("option id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "option", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.MoveOption(cmd.Context(), id, position); err != nil {
				return writeErr(cmd, err)
			}
			sv := e.Snapshot()
			_, q, _ := sv.FindOption(id)
			return writeOut(cmd, app, map[string]any{"data": q})
		},
	}
	cmd.Flags().IntVar(&position, "position", 1, "Target position")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newOptionsDeleteCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "delete <option-id>",
		Short: "Delete an option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("option id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "option", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.DeleteOption(cmd.Context(), id); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"deleted": id}})
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}
