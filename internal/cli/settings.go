package cli

import (
	"strconv"

	"surveyor/internal/model"

	"github.com/spf13/cobra"
)

func newSettingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Per-question settings (required mode, file limits, numeric input)",
	}
	cmd.AddCommand(newSettingsShowCmd(app))
	cmd.AddCommand(newSettingsSetCmd(app))
	return cmd
}

func newSettingsShowCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "show <question-id>",
		Short: "Show a question's settings (defaults when none are stored)",
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
			return writeOut(cmd, app, map[string]any{"data": e.Settings(qid)})
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newSettingsSetCmd(app *App) *cobra.Command {
	var (
		required    string
		scenario    int
		maxFileKB   int
		fileTypes   []string
		numericOnly bool
		survey      int64
	)
	cmd := &cobra.Command{
		Use:   "set <question-id>",
		Short: "Change settings; only the given flags are touched",
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

			next := e.Settings(qid)
			flags := cmd.Flags()
			if flags.Changed("required") {
				mode := model.RequiredMode(required)
				if !mode.Valid() {
					return writeErr(cmd, errUsage("--required", "want off, soft or hard"))
				}
				next.Required = mode
			}
			if flags.Changed("default-scenario") {
				next.DefaultScenario = scenario
			}
			if flags.Changed("max-file-size-kb") {
				next.MaxFileSizeKB = maxFileKB
			}
			if flags.Changed("allowed-file-types") {
				next.AllowedFileTypes = fileTypes
			}
			if flags.Changed("numeric-only") {
				next.NumericOnly = numericOnly
			}
			if err := e.UpdateSettings(cmd.Context(), qid, next); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": e.Settings(qid)})
		},
	}
	cmd.Flags().StringVar(&required, "required", "", "Required mode (off|soft|hard)")
	cmd.Flags().IntVar(&scenario, "default-scenario", 1, "Default scenario")
	cmd.Flags().IntVar(&maxFileKB, "max-file-size-kb", 0, "Upload size limit (file_upload)")
	cmd.Flags().StringSliceVar(&fileTypes, "allowed-file-types", nil, "Allowed extensions (file_upload)")
	cmd.Flags().BoolVar(&numericOnly, "numeric-only", false, "Accept digits only (short_text, number, slider)")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newConditionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conditions",
		Short: "Show a question only after an earlier answer",
	}
	cmd.AddCommand(newConditionsAddCmd(app))
	cmd.AddCommand(newConditionsRemoveCmd(app))
	return cmd
}

func newConditionsAddCmd(app *App) *cobra.Command {
	var (
		source, option, target int64
		kind                   string
		survey                 int64
	)
	cmd := &cobra.Command{
		Use:   "add <question-id>",
		Short: "Gate a question on an earlier question's option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qid, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			c := model.Condition{
				Kind:             model.ConditionKind(kind),
				SourceQuestionID: model.ID(source),
				RequiredOptionID: model.ID(option),
			}
			if cmd.Flags().Changed("target") {
				t := model.ID(target)
				c.TargetQuestionID = &t
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", qid, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.AddCondition(cmd.Context(), qid, c); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": e.Settings(qid)})
		},
	}
	cmd.Flags().Int64Var(&source, "source", 0, "Earlier question whose answer is checked")
	cmd.Flags().Int64Var(&option, "option", 0, "Option of the source question that must be selected")
	cmd.Flags().Int64Var(&target, "target", 0, "Question a participant condition applies to")
	cmd.Flags().StringVar(&kind, "kind", string(model.ConditionQuestion), "Condition kind (question|participant)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("option")
	addSurveyFlag(cmd, &survey)
	return cmd
}

func newConditionsRemoveCmd(app *App) *cobra.Command {
	var survey int64
	cmd := &cobra.Command{
		Use:   "remove <question-id> <index>",
		Short: "Remove the condition at a 0-based index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qid, err := parseID("question id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return writeErr(cmd, errUsage("index", err.Error()))
			}
			e, done, err := app.openEditorFor(cmd.Context(), "question", qid, model.ID(survey))
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			if err := e.RemoveCondition(cmd.Context(), qid, index); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": e.Settings(qid)})
		},
	}
	addSurveyFlag(cmd, &survey)
	return cmd
}
