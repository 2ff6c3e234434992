package cli

import (
	"surveyor/internal/broadcast"
	"surveyor/internal/editor"
	"surveyor/internal/model"

	"github.com/spf13/cobra"
)

func newQuestionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Add, edit, move, retype and delete questions",
	}
	cmd.AddCommand(newQuestionsAddCmd(app))
	cmd.AddCommand(newQuestionsEditCmd(app))
	cmd.AddCommand(newQuestionsMoveCmd(app))
	cmd.AddCommand(newQuestionsTypeCmd(app))
	cmd.AddCommand(newQuestionsDeleteCmd(app))
	cmd.AddCommand(newQuestionsTypesCmd(app))
	return cmd
}

func newQuestionsAddCmd(app *App) *cobra.Command {
	var (
		d      editor.QuestionDraft
		typ    string
		survey int64
	)
	cmd := &cobra.Command{
		Use:   "add <group-id>",
		Short: "Append a question (with its type's default options) to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseID("group id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := model.ParseQuestionType(typ)
			if err != nil {
				return writeErr(cmd, errUsage("--type", err.Error()))
			}
			d.Type = t
			e, done, err := app.openEditorFor(cmd.Context(), "group", gid, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			q, err := e.AddQuestion(cmd.Context(), gid, d)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": q})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(model.TypeSingleChoice), "Question type (see `surveyor questions types`)")
	cmd.Flags().StringVar(&d.Text, "text", "", "Question text")
	cmd.Flags().StringVar(&d.HelpText, "help-text", "", "Help text (markdown)")
	cmd.Flags().StringVar(&d.Code, "code", "", "Question code (default: Q<n>)")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newQuestionsEditCmd(app *App) *cobra.Command {
	var (
		text, helpText, code string
		maxLength, points    int
		survey               int64
	)
	cmd := &cobra.Command{
		Use:   "edit <question-id>",
		Short: "Change a question's text, help text, code, max length or points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			edits := []struct {
				flag  string
				field string
				value any
			}{
				{"text", editor.FieldText, text},
				{"help-text", editor.FieldHelpText, helpText},
				{"code", editor.FieldCode, code},
				{"max-length", editor.FieldMaxLength, optionalInt(maxLength)},
				{"points", editor.FieldPoints, optionalInt(points)},
			}
			changed := 0
			for _, ed := range edits {
				if cmd.Flags().Changed(ed.flag) {
					changed++
				}
			}
			if changed == 0 {
				return writeErr(cmd, errUsage("flags", "nothing to change"))
			}

			e, done, err := app.openEditorFor(cmd.Context(), "question", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			for _, ed := range edits {
				if !cmd.Flags().Changed(ed.flag) {
					continue
				}
				if err := e.Edit(cmd.Context(), broadcast.KindQuestion, id, ed.field, ed.value); err != nil {
					return writeErr(cmd, err)
				}
			}
			return writeQuestion(cmd, app, e.Snapshot(), id)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Question text")
	cmd.Flags().StringVar(&helpText, "help-text", "", "Help text (markdown)")
	cmd.Flags().StringVar(&code, "code", "", "Question code")
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "Maximum answer length for text types (0 clears)")
	cmd.Flags().IntVar(&points, "points", 0, "Points for quiz scoring (0 clears)")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func newQuestionsMoveCmd(app *App) *cobra.Command {
	var (
		group    int64
		position int
		survey   int64
	)
	cmd := &cobra.Command{
		Use:   "move <question-id>",
		Short: "Move a question within its group or into another group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			to := model.ID(group)
			if to == 0 {
				sv := e.Snapshot()
				_, g, _ := sv.FindQuestion(id)
				if g != nil {
					to = g.ID
				}
			}
			if err := e.MoveQuestion(cmd.Context(), id, to, position); err != nil {
				return writeErr(cmd, err)
			}
			return writeQuestion(cmd, app, e.Snapshot(), id)
		},
	}
	cmd.Flags().Int64Var(&group, "group", 0, "Target group id (default: the current group)")
	cmd.Flags().IntVar(&position, "position", 1, "Target 1-based position within the group")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newQuestionsTypeCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "type <question-id> <type>",
		Short: "Change a question's type, replacing its options with the new type's defaults",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := model.ParseQuestionType(args[1])
			if err != nil {
				return writeErr(cmd, errUsage("type", err.Error()))
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.ChangeQuestionType(cmd.Context(), id, t); err != nil {
				return writeErr(cmd, err)
			}
			return writeQuestion(cmd, app, e.Snapshot(), id)
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newQuestionsDeleteCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "delete <question-id>",
		Short: "Delete a question with its options and settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", id, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.DeleteQuestion(cmd.Context(), id); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"deleted": id}})
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}

type typeInfo struct {
	Type           model.QuestionType `json:"type"`
	Label          string             `json:"label"`
	Choice         bool               `json:"choice"`
	Multi          bool               `json:"multi"`
	DefaultOptions []string           `json:"defaultOptions"`
}

func newQuestionsTypesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List question types and their default options",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := []typeInfo{}
			for _, t := range model.QuestionTypes() {
				spec := t.Spec()
				info := typeInfo{Type: t, Label: spec.Label, Choice: spec.Choice, Multi: spec.Multi, DefaultOptions: []string{}}
				for _, o := range spec.DefaultOptions {
					info.DefaultOptions = append(info.DefaultOptions, o.Text)
				}
				out = append(out, info)
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
}

func writeQuestion(cmd *cobra.Command, app *App, sv model.Survey, id model.ID) error {
	q, _, _ := sv.FindQuestion(id)
	if q == nil {
		return writeOut(cmd, app, map[string]any{"data": nil})
	}
	data := map[string]any{"question": q}
	if qs, ok := sv.Settings[id]; ok {
		data["settings"] = qs
	}
	return writeOut(cmd, app, map[string]any{"data": data})
}
