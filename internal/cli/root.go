package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"surveyor/internal/broadcast"
	"surveyor/internal/client"
	"surveyor/internal/editor"
	"surveyor/internal/format"
	"surveyor/internal/model"
	"surveyor/internal/store"
	"surveyor/internal/web"

	"github.com/spf13/cobra"
)

type App struct {
	Dir       string
	Server    string
	Broadcast string
	Token     string
	Format    string
	Pretty    bool
	LogLevel  string

	cfg *store.Config
	log *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "surveyor",
		Short:        "Local-first survey editor (CLI, server and respondent preview)",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  # Create a survey and add a question
  surveyor surveys create --title "Customer feedback"
  surveyor groups add 1 --title "Basics"
  surveyor questions add 2 --type single_choice --text "How did you hear about us?"

  # Show it (shortcut for: surveyor surveys show 1)
  surveyor 1

  # Preview it as a respondent
  surveyor preview 1
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	}

	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("SURVEYOR_DIR", ""), "Store directory (default: nearest .surveyor above the working directory)")
	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("SURVEYOR_SERVER", ""), "Edit through a `surveyor serve` instance instead of the local store")
	cmd.PersistentFlags().StringVar(&app.Broadcast, "broadcast", envOr("SURVEYOR_BROADCAST", ""), "Cross-tab channel: memory, ws(s)/http(s) relay URL or redis URL")
	cmd.PersistentFlags().StringVar(&app.Token, "token", envOr("SURVEYOR_TOKEN", ""), "Bearer token sent to --server")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("SURVEYOR_FORMAT", ""), "Output format (json|edn|yaml)")
	cmd.PersistentFlags().BoolVar(&app.Pretty, "pretty", false, "Pretty-print output")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("SURVEYOR_LOG_LEVEL", ""), "Log level (debug|info|warn|error)")

	cmd.AddCommand(newInitCmd(app))
	cmd.AddCommand(newSurveysCmd(app))
	cmd.AddCommand(newGroupsCmd(app))
	cmd.AddCommand(newQuestionsCmd(app))
	cmd.AddCommand(newOptionsCmd(app))
	cmd.AddCommand(newSettingsCmd(app))
	cmd.AddCommand(newConditionsCmd(app))
	cmd.AddCommand(newVisibleCmd(app))
	cmd.AddCommand(newPreviewCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTokenCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newDocsCmd(app))

	return cmd
}

// setup fills unset flags from the config file and configures logging.
// Flags and SURVEYOR_* variables win over the file.
func (app *App) setup(cmd *cobra.Command) error {
	cfg, err := store.LoadConfig()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: ignoring config: %v\n", err)
		cfg = &store.Config{}
	}
	app.cfg = cfg
	app.Dir = firstNonEmpty(app.Dir, cfg.Dir)
	app.Server = firstNonEmpty(app.Server, cfg.Server)
	app.Broadcast = firstNonEmpty(app.Broadcast, cfg.Broadcast)
	app.Token = firstNonEmpty(app.Token, cfg.Token)
	app.Format = firstNonEmpty(app.Format, cfg.Format, "json")
	app.LogLevel = firstNonEmpty(app.LogLevel, cfg.LogLevel, "warn")

	level, err := parseLevel(app.LogLevel)
	if err != nil {
		return err
	}
	app.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q (want debug|info|warn|error)", s)
	}
	return l, nil
}

func (app *App) logger() *slog.Logger {
	if app.log == nil {
		return slog.Default()
	}
	return app.log
}

func (app *App) resolveDir() (string, error) {
	if app.Dir != "" {
		return app.Dir, nil
	}
	d, err := store.DefaultDir()
	if err != nil {
		return "", err
	}
	app.Dir = d
	return d, nil
}

// openBackend returns the server client when --server is set, otherwise the
// local store. The returned func releases it.
func (app *App) openBackend(ctx context.Context) (web.Backend, func(), error) {
	if app.Server != "" {
		return client.New(app.Server, app.Token, nil), func() {}, nil
	}
	dir, err := app.resolveDir()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, dir, app.logger())
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// broadcastURL defaults to the server's relay when editing through a server.
func (app *App) broadcastURL() string {
	if app.Broadcast != "" {
		return app.Broadcast
	}
	return app.Server
}

// openEditor loads a survey into an editor and, when a broadcast channel is
// configured, publishes its commits to the other tabs and applies theirs.
func (app *App) openEditor(ctx context.Context, surveyID model.ID) (*editor.Editor, func(), error) {
	be, release, err := app.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	return app.attachEditor(ctx, be, release, surveyID)
}

// openEditorFor opens the survey that owns an entity. surveyID may be zero,
// in which case the owner is looked up.
func (app *App) openEditorFor(ctx context.Context, kind string, id, surveyID model.ID) (*editor.Editor, func(), error) {
	be, release, err := app.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	if surveyID == 0 {
		surveyID, err = locate(ctx, be, kind, id)
		if err != nil {
			release()
			return nil, nil, err
		}
	}
	return app.attachEditor(ctx, be, release, surveyID)
}

func (app *App) attachEditor(ctx context.Context, be web.Backend, release func(), surveyID model.ID) (*editor.Editor, func(), error) {
	e, err := editor.Open(ctx, be, surveyID, editor.Options{Logger: app.logger()})
	if err != nil {
		release()
		return nil, nil, err
	}
	raw := app.broadcastURL()
	if raw == "" || raw == "memory" {
		return e, release, nil
	}
	header := client.New(app.Server, app.Token, nil).Header()
	opener, err := broadcast.OpenerFromURL(raw, nil, header, app.logger())
	if err != nil {
		release()
		return nil, nil, err
	}
	sync, err := broadcast.Open(ctx, opener, surveyID, app.logger())
	if err != nil {
		// Editing still works without other tabs.
		app.logger().Warn("broadcast unavailable", "url", raw, "err", err)
		return e, release, nil
	}
	e.SetPublisher(sync)
	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = sync.Run(runCtx, e) }()
	return e, func() {
		cancel()
		_ = sync.Close()
		release()
	}, nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.Pretty)
}

// writeErr prints the human-readable form of err and returns it so cobra
// exits non-zero.
func writeErr(cmd *cobra.Command, err error) error {
	msg := editor.Message(err)
	if editor.IsReloadRequired(err) {
		msg += " (" + err.Error() + ")"
	}
	fmt.Fprintln(cmd.ErrOrStderr(), msg)
	return errSilent{err}
}

// errSilent marks an error that was already printed.
type errSilent struct{ err error }

func (e errSilent) Error() string { return e.err.Error() }
func (e errSilent) Unwrap() error { return e.err }

func IsReported(err error) bool {
	var s errSilent
	return errors.As(err, &s)
}
