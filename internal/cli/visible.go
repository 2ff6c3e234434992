package cli

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"surveyor/internal/model"
	"surveyor/internal/tui"
	"surveyor/internal/visibility"
	"surveyor/internal/webtui"

	"github.com/spf13/cobra"
)

type visibleQuestion struct {
	ID    model.ID           `json:"id"`
	Code  string             `json:"code,omitempty"`
	Text  string             `json:"text"`
	Type  model.QuestionType `json:"type"`
	Group model.ID           `json:"groupId"`
}

func newVisibleCmd(app *App) *cobra.Command {
	var (
		answers []string
		design  bool
	)
	cmd := &cobra.Command{
		Use:   "visible <survey-id>",
		Short: "List the questions a respondent sees for a set of answers",
		Example: `  # Questions shown after answering option 7 to question 4
  surveyor visible 1 --answer 4=7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			parsed, err := visibility.ParseAnswers(answers)
			if err != nil {
				return writeErr(cmd, errUsage("--answer", err.Error()))
			}
			e, done, err := app.openEditor(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			for qid, a := range parsed {
				if err := e.SetAnswer(qid, a); err != nil {
					return writeErr(cmd, fmt.Errorf("answer for question %d: %w", qid, err))
				}
			}

			mode := visibility.Respondent
			if design {
				mode = visibility.Design
			}
			out := []visibleQuestion{}
			for _, q := range e.Visible(mode) {
				out = append(out, visibleQuestion{ID: q.ID, Code: q.Code, Text: q.Text, Type: q.Type, Group: q.GroupID})
			}
			total := len(e.Visible(visibility.Design))
			return writeOut(cmd, app, map[string]any{
				"data": out,
				"meta": map[string]any{"shown": len(out), "hidden": total - len(out)},
			})
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "Answer as <question-id>=<option-id>[,<option-id>] (repeatable)")
	cmd.Flags().BoolVar(&design, "design", false, "Ignore conditions and list every question")
	return cmd
}

func newPreviewCmd(app *App) *cobra.Command {
	var webAddr string
	cmd := &cobra.Command{
		Use:   "preview <survey-id>",
		Short: "Answer a survey interactively as a respondent would",
		Long: `Opens a terminal preview that shows only the questions whose conditions are
met by the answers picked so far. Changes made from other tabs (through
--server or --broadcast) appear live.

With --web the preview is served to browsers instead; every page load starts
its own session.`,
		Example: `surveyor preview 12
surveyor --broadcast memory preview 12 --web 127.0.0.1:8788`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("survey id", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if webAddr != "" {
				return app.servePreview(cmd, id, webAddr)
			}
			e, done, err := app.openEditor(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()
			return tui.Run(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&webAddr, "web", "", "Serve the preview in a browser terminal at this address")
	return cmd
}

func (app *App) servePreview(cmd *cobra.Command, id model.ID, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sessions rerun this binary; the survey must exist before we start.
	be, release, err := app.openBackend(ctx)
	if err != nil {
		return writeErr(cmd, err)
	}
	sv, err := be.GetSurvey(ctx, id)
	release()
	if err != nil {
		return writeErr(cmd, err)
	}

	srv, err := webtui.NewServer(webtui.ServerConfig{
		Addr:  addr,
		Title: sv.Title,
		Args:  app.sessionArgs("preview", id.String()),
	})
	if err != nil {
		return writeErr(cmd, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Preview of %q at http://%s\n", sv.Title, srv.Addr())
	if err := srv.ListenAndServe(ctx); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}

// sessionArgs repeats the connection flags for a child process.
func (app *App) sessionArgs(sub ...string) []string {
	out := []string{}
	add := func(flag, v string) {
		if v != "" {
			out = append(out, flag, v)
		}
	}
	if app.Server == "" {
		dir, _ := app.resolveDir()
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		add("--dir", dir)
	}
	add("--server", app.Server)
	add("--broadcast", app.Broadcast)
	add("--token", app.Token)
	add("--log-level", app.LogLevel)
	return append(out, sub...)
}
