package cli

import (
	"time"

	"surveyor/internal/web"

	"github.com/spf13/cobra"
)

func newTokenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for `surveyor serve --jwt-secret`",
	}

	var (
		subject   string
		scope     string
		ttl       time.Duration
		jwtSecret string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with the server's secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := firstNonEmpty(jwtSecret, app.cfg.JWTSecret)
			if secret == "" {
				return writeErr(cmd, errUsage("--jwt-secret", "no secret configured"))
			}
			tok, err := web.IssueToken(secret, subject, scope, ttl)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"token":     tok,
					"subject":   subject,
					"scope":     firstNonEmpty(scope, web.ScopeEdit),
					"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				},
			})
		},
	}
	issue.Flags().StringVar(&subject, "subject", "editor", "Who the token is for")
	issue.Flags().StringVar(&scope, "scope", web.ScopeEdit, "edit or view")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Lifetime")
	issue.Flags().StringVar(&jwtSecret, "jwt-secret", envOr("SURVEYOR_JWT_SECRET", ""), "HS256 secret (default: config jwtSecret)")

	cmd.AddCommand(issue)
	return cmd
}
