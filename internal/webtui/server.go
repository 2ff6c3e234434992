// Package webtui serves the terminal preview in a browser: each websocket
// session runs the preview command in a pty and relays its output.
package webtui

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

//go:embed templates/*.html static/*.css static/*.js
var assetsFS embed.FS

type ServerConfig struct {
	Addr  string
	Title string
	// Args are passed to the current executable for every session,
	// e.g. ["--dir", "./data", "preview", "12"].
	Args []string
	// Command overrides how a session process is built.
	Command func() (*exec.Cmd, error)
}

type Server struct {
	cfg  ServerConfig
	tmpl *template.Template
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("webtui: missing addr")
	}
	if cfg.Command == nil && len(cfg.Args) == 0 {
		return nil, errors.New("webtui: missing session command")
	}
	tmpl, err := template.ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, tmpl: tmpl}, nil
}

func (s *Server) Addr() string {
	return strings.TrimSpace(s.cfg.Addr)
}

// ListenAndServe serves until ctx is done. Open sessions are not drained;
// their processes exit when the browser disconnects.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/terminal", http.StatusFound)
	})
	mux.HandleFunc("GET /terminal", s.handleTerminal)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /static/app.css", s.handleStatic("static/app.css", "text/css; charset=utf-8"))
	mux.HandleFunc("GET /static/app.js", s.handleStatic("static/app.js", "text/javascript; charset=utf-8"))

	return mux
}

func (s *Server) handleStatic(path, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := assetsFS.ReadFile(path)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(b)
	}
}

type terminalVM struct {
	Title string
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(s.cfg.Title)
	if title == "" {
		title = "Survey preview"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "terminal.html", terminalVM{Title: title}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) sessionCmd() (*exec.Cmd, error) {
	if s.cfg.Command != nil {
		return s.cfg.Command()
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, s.cfg.Args...)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	return cmd, nil
}
