package cli

import (
	"errors"
	"fmt"
	"slices"

	"surveyor/internal/broadcast"
	"surveyor/internal/editor"
	"surveyor/internal/model"
	"surveyor/internal/publish"
	"surveyor/internal/remote"

	"github.com/spf13/cobra"
)

var errDoctorIssuesFound = errors.New("doctor found issues")

func newSurveysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surveys",
		Short: "Create, list and inspect surveys",
	}
	cmd.AddCommand(newSurveysCreateCmd(app))
	cmd.AddCommand(newSurveysListCmd(app))
	cmd.AddCommand(newSurveysShowCmd(app))
	cmd.AddCommand(newSurveysRenameCmd(app))
	cmd.AddCommand(newSurveysDoctorCmd(app))
	cmd.AddCommand(newSurveysPublishCmd(app))
	return cmd
}

func newSurveysCreateCmd(app *App) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty survey",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			sv, err := be.CreateSurvey(cmd.Context(), remote.Fields{"title": title})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   sv,
				"_hints": []string{fmt.Sprintf(`surveyor groups add %d --title "Basics"`, sv.ID)},
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Survey title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newSurveysListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List surveys (most recently changed first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			list, err := be.ListSurveys(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": list,
				"meta": map[string]any{"count": len(list)},
			})
		},
	}
}

func newSurveysShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <survey-id>",
		Short: "Show a survey with its groups, questions, options and settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			sv, err := be.GetSurvey(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			questions := 0
			for _, g := range sv.Groups {
				questions += len(g.Questions)
			}
			return writeOut(cmd, app, map[string]any{
				"data": sv,
				"meta": map[string]any{"groups": len(sv.Groups), "questions": questions},
			})
		},
	}
}

func newSurveysRenameCmd(app *App) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "rename <survey-id>",
		Short: "Change a survey's title",
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
			if err := e.Edit(cmd.Context(), broadcast.KindSurvey, id, editor.FieldTitle, title); err != nil {
				return writeErr(cmd, err)
			}
			sv := e.Snapshot()
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": sv.ID, "title": sv.Title, "version": sv.Version}})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

type doctorIssue struct {
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Question model.ID `json:"questionId,omitempty"`
}

// diagnose reports structural problems and conditions that can never be
// satisfied. Dangling conditions are kept in storage and evaluate to false.
func diagnose(sv *model.Survey) []doctorIssue {
	issues := []doctorIssue{}
	if err := sv.CheckIntegrity(); err != nil {
		issues = append(issues, doctorIssue{Severity: "error", Message: err.Error()})
	}
	ids := make([]model.ID, 0, len(sv.Settings))
	for qid := range sv.Settings {
		ids = append(ids, qid)
	}
	slices.Sort(ids)
	for _, qid := range ids {
		qs := sv.Settings[qid]
		q, _, _ := sv.FindQuestion(qid)
		if q == nil {
			issues = append(issues, doctorIssue{Severity: "warning", Message: "settings for a question that no longer exists", Question: qid})
			continue
		}
		for i, c := range qs.Conditions {
			src, _, _ := sv.FindQuestion(c.SourceQuestionID)
			switch {
			case src == nil:
				issues = append(issues, doctorIssue{Severity: "warning", Question: qid,
					Message: fmt.Sprintf("condition %d: source question %d no longer exists", i, c.SourceQuestionID)})
			case !sv.Precedes(c.SourceQuestionID, qid):
				issues = append(issues, doctorIssue{Severity: "warning", Question: qid,
					Message: fmt.Sprintf("condition %d: source question %d no longer comes first", i, c.SourceQuestionID)})
			default:
				if o, owner, _ := sv.FindOption(c.RequiredOptionID); o == nil || owner.ID != src.ID {
					issues = append(issues, doctorIssue{Severity: "warning", Question: qid,
						Message: fmt.Sprintf("condition %d: option %d is not an option of question %d", i, c.RequiredOptionID, src.ID)})
				}
			}
		}
	}
	return issues
}

func newSurveysDoctorCmd(app *App) *cobra.Command {
	var fail bool
	cmd := &cobra.Command{
		Use:   "doctor <survey-id>",
		Short: "Check positions, references and conditions of a survey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			sv, err := be.GetSurvey(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			issues := diagnose(&sv)
			hasErrors := false
			for _, is := range issues {
				if is.Severity == "error" {
					hasErrors = true
				}
			}
			if err := writeOut(cmd, app, map[string]any{
				"data": issues,
				"meta": map[string]any{"issues": len(issues), "hasErrors": hasErrors},
			}); err != nil {
				return err
			}
			if fail && len(issues) > 0 {
				return errDoctorIssuesFound
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with non-zero status if issues are found")
	return cmd
}

func newSurveysPublishCmd(app *App) *cobra.Command {
	var toDir string
	var overwrite bool
	var withIDs bool
	cmd := &cobra.Command{
		Use:   "publish <survey-id>",
		Short: "Write a survey as Markdown to <dir>/surveys/<id>.md",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if toDir == "" {
				return writeErr(cmd, errUsage("--to", "missing --to"))
			}
			be, release, err := app.openBackend(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer release()
			sv, err := be.GetSurvey(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			res, err := publish.WriteSurvey(sv, toDir, publish.WriteOptions{
				Overwrite: overwrite,
				Render:    publish.RenderOptions{IncludeIDs: withIDs},
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": res})
		},
	}
	cmd.Flags().StringVar(&toDir, "to", "", "Output directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	cmd.Flags().BoolVar(&withIDs, "ids", false, "Append entity ids")
	return cmd
}
