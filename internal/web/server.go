// Package web serves the persistence API over HTTP together with the
// cross-tab relay (websocket and Datastar SSE) and a respondent preview.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is what the server exposes. *store.Store satisfies it.
type Backend interface {
	remote.API
	ListSurveys(ctx context.Context) ([]model.Survey, error)
	ReadEvents(ctx context.Context, surveyID model.ID, limit int) ([]store.Event, error)
}

type ServerConfig struct {
	Addr    string
	Backend Backend
	// Relay carries tab changes between connections. Nil means an
	// in-process bus; a redis opener lets several servers share tabs.
	Relay broadcast.Opener
	// JWTSecret turns on bearer-token auth for everything except /health
	// and /metrics.
	JWTSecret string
	// RelayRate caps inbound websocket messages per connection and second.
	RelayRate  float64
	RelayBurst int
	Logger     *slog.Logger
}

type Server struct {
	cfg     ServerConfig
	backend Backend
	relay   broadcast.Opener
	log     *slog.Logger
	metrics *metrics
	secret  []byte
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("web: missing backend")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Relay == nil {
		cfg.Relay = broadcast.NewBus()
	}
	if cfg.RelayRate <= 0 {
		cfg.RelayRate = 50
	}
	if cfg.RelayBurst <= 0 {
		cfg.RelayBurst = 100
	}
	s := &Server{
		cfg:     cfg,
		backend: cfg.Backend,
		relay:   cfg.Relay,
		log:     cfg.Logger,
		metrics: newMetrics(prometheus.NewRegistry()),
	}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		s.secret = []byte(secret)
	}
	return s, nil
}

func (s *Server) Addr() string { return strings.TrimSpace(s.cfg.Addr) }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	for pattern, h := range map[string]http.HandlerFunc{
		"GET /api/surveys":                 s.handleSurveyList,
		"POST /api/surveys":                s.handleSurveyCreate,
		"GET /api/surveys/{id}":            s.handleSurveyGet,
		"PATCH /api/surveys/{id}":          s.handleSurveyUpdate,
		"GET /api/surveys/{id}/events":     s.handleSurveyEvents,
		"GET /api/events":                  s.handleSurveyEvents,
		"GET /api/surveys/{id}/preview":    s.handlePreview,
		"POST /api/surveys/{id}/groups":    s.handleGroupCreate,
		"PATCH /api/groups/{id}":           s.handleGroupUpdate,
		"DELETE /api/groups/{id}":          s.handleGroupDelete,
		"POST /api/groups/{id}/questions":  s.handleQuestionCreate,
		"PATCH /api/questions/{id}":        s.handleQuestionUpdate,
		"DELETE /api/questions/{id}":       s.handleQuestionDelete,
		"PUT /api/questions/{id}/settings": s.handleSettingsUpdate,
		"POST /api/questions/{id}/options": s.handleOptionCreate,
		"PATCH /api/options/{id}":          s.handleOptionUpdate,
		"DELETE /api/options/{id}":         s.handleOptionDelete,
		"GET /ws/surveys/{id}":             s.handleRelayWS,
		"GET /sse/surveys/{id}":            s.handleRelaySSE,
	} {
		mux.Handle(pattern, s.requireAuth(h))
	}
	return s.instrument(mux)
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("web: listening", "addr", s.Addr(), "auth", s.secret != nil)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a persistence error code to its HTTP status.
func StatusFor(code remote.Code) int {
	switch code {
	case remote.CodeInvalid:
		return http.StatusUnprocessableEntity
	case remote.CodeNotFound:
		return http.StatusNotFound
	case remote.CodeConflict:
		return http.StatusConflict
	case remote.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	re, ok := remote.AsError(err)
	if !ok {
		re = &remote.Error{Code: remote.CodeUnavailable, Message: err.Error()}
	}
	status := StatusFor(re.Code)
	if status >= 500 {
		s.log.Error("web: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.log.Debug("web: request rejected", "method", r.Method, "path", r.URL.Path, "code", re.Code, "err", err)
	}
	writeJSON(w, status, re)
}

func pathID(r *http.Request) (model.ID, error) {
	id, err := model.ParseID(r.PathValue("id"))
	if err != nil || !id.Durable() {
		return 0, remote.NewInvalidError("invalid id " + r.PathValue("id"))
	}
	return id, nil
}

func decodeFields(r *http.Request) (remote.Fields, error) {
	f := remote.Fields{}
	if r.Body == nil || r.ContentLength == 0 {
		return f, nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, remote.NewInvalidError("invalid JSON body: " + err.Error())
	}
	return f, nil
}
