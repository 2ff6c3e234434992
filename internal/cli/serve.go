package cli

import (
	"os/signal"
	"strings"
	"syscall"

	"surveyor/internal/broadcast"
	"surveyor/internal/store"
	"surveyor/internal/web"

	"github.com/spf13/cobra"
)

const defaultListen = "127.0.0.1:8787"

func newServeCmd(app *App) *cobra.Command {
	var (
		listen     string
		relayURL   string
		jwtSecret  string
		relayRate  float64
		relayBurst int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP with a websocket relay between tabs",
		Long: `Serves the local store as a JSON API, relays changes between editor tabs
over websockets (/ws/surveys/{id}) and Datastar SSE (/sse/surveys/{id}),
renders respondent previews and exposes Prometheus metrics on /metrics.

With --relay redis://... several servers share one relay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dir, err := app.resolveDir()
			if err != nil {
				return writeErr(cmd, err)
			}
			st, err := store.Open(ctx, dir, app.logger())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			var relay broadcast.Opener
			if u := strings.TrimSpace(relayURL); u != "" && u != "memory" {
				if !strings.HasPrefix(u, "redis") {
					return writeErr(cmd, errUsage("--relay", "only redis:// relays can be shared between servers"))
				}
				relay, err = broadcast.OpenerFromURL(u, nil, nil, app.logger())
				if err != nil {
					return writeErr(cmd, err)
				}
			}

			srv, err := web.NewServer(web.ServerConfig{
				Addr:       firstNonEmpty(listen, app.cfg.Listen, defaultListen),
				Backend:    st,
				Relay:      relay,
				JWTSecret:  firstNonEmpty(jwtSecret, app.cfg.JWTSecret),
				RelayRate:  relayRate,
				RelayBurst: relayBurst,
				Logger:     app.logger(),
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			app.logger().Info("serving", "addr", srv.Addr(), "dir", dir, "auth", jwtSecret != "" || app.cfg.JWTSecret != "")
			if err := srv.ListenAndServe(ctx); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", envOr("SURVEYOR_LISTEN", ""), "Listen address (default "+defaultListen+")")
	cmd.Flags().StringVar(&relayURL, "relay", envOr("SURVEYOR_RELAY", ""), "Shared relay (redis://...); default is in-process")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", envOr("SURVEYOR_JWT_SECRET", ""), "HS256 secret; enables bearer-token auth")
	cmd.Flags().Float64Var(&relayRate, "relay-rate", 50, "Inbound websocket messages per second per tab")
	cmd.Flags().IntVar(&relayBurst, "relay-burst", 100, "Inbound websocket burst per tab")
	return cmd
}
