package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"surveyor/internal/remote"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const claimsKey authCtxKey = 1

const (
	ScopeEdit = "edit"
	ScopeView = "view"
)

// Claims is the bearer token payload. View tokens may read surveys and join
// the relay but every write is rejected with 403.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject.
func IssueToken(secret, subject, scope string, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("missing jwt secret")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("missing subject")
	}
	switch scope {
	case "":
		scope = ScopeEdit
	case ScopeEdit, ScopeView:
	default:
		return "", errors.New("scope must be edit or view")
	}
	now := time.Now()
	claims := Claims{Scope: scope, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret []byte, tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// bearer reads the Authorization header, falling back to ?token= because
// browsers cannot set headers on EventSource or WebSocket requests.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.secret == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearer(r)
		if tok == "" {
			writeJSON(w, http.StatusUnauthorized, &remote.Error{Code: remote.CodeForbidden, Message: "missing bearer token"})
			return
		}
		c, err := parseToken(s.secret, tok)
		if err != nil {
			s.log.Debug("web: token rejected", "err", err)
			writeJSON(w, http.StatusUnauthorized, &remote.Error{Code: remote.CodeForbidden, Message: "invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, c)))
	})
}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

func (s *Server) canWrite(w http.ResponseWriter, r *http.Request) bool {
	if s.secret == nil {
		return true
	}
	if c, ok := claimsFrom(r.Context()); ok && c.Scope == ScopeEdit {
		return true
	}
	s.writeErr(w, r, remote.NewForbiddenError("token does not allow edits"))
	return false
}
