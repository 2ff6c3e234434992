package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"surveyor/internal/broadcast"
	"surveyor/internal/editor"
	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/store"
	"surveyor/internal/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	srv, err := web.NewServer(web.ServerConfig{Backend: st, JWTSecret: secret, Logger: quiet()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestErrorsKeepTheirCode(t *testing.T) {
	ctx := context.Background()
	ts := serve(t, "")
	c := New(ts.URL, "", ts.Client())

	_, err := c.GetSurvey(ctx, 404)
	assert.Equal(t, remote.CodeNotFound, remote.CodeOf(err))

	sv, err := c.CreateSurvey(ctx, remote.Fields{"title": "Exit interview"})
	require.NoError(t, err)
	g, err := c.CreateGroup(ctx, sv.ID, remote.Fields{"title": "Why"})
	require.NoError(t, err)

	_, err = c.UpdateGroup(ctx, g.ID, remote.Fields{"title": "Reasons", "version": 1})
	require.NoError(t, err)
	_, err = c.UpdateGroup(ctx, g.ID, remote.Fields{"title": "Stale", "version": 1})
	assert.Equal(t, remote.CodeConflict, remote.CodeOf(err))

	_, err = c.CreateQuestion(ctx, g.ID, remote.Fields{"type": "essay"})
	assert.Equal(t, remote.CodeInvalid, remote.CodeOf(err))

	down := New("http://127.0.0.1:1", "", nil)
	_, err = down.GetSurvey(ctx, sv.ID)
	assert.Equal(t, remote.CodeUnavailable, remote.CodeOf(err))
}

func TestForbiddenWithoutEditScope(t *testing.T) {
	ctx := context.Background()
	const secret = "s3cret"
	ts := serve(t, secret)

	_, err := New(ts.URL, "", ts.Client()).ListSurveys(ctx)
	assert.Equal(t, remote.CodeForbidden, remote.CodeOf(err))

	view, err := web.IssueToken(secret, "reviewer", web.ScopeView, time.Hour)
	require.NoError(t, err)
	viewer := New(ts.URL, view, ts.Client())
	list, err := viewer.ListSurveys(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = viewer.CreateSurvey(ctx, remote.Fields{"title": "Nope"})
	assert.Equal(t, remote.CodeForbidden, remote.CodeOf(err))
	assert.Equal(t, "Bearer "+view, viewer.Header().Get("Authorization"))
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, remote.CodeInvalid, codeForStatus(http.StatusBadRequest))
	assert.Equal(t, remote.CodeInvalid, codeForStatus(http.StatusUnprocessableEntity))
	assert.Equal(t, remote.CodeNotFound, codeForStatus(http.StatusNotFound))
	assert.Equal(t, remote.CodeConflict, codeForStatus(http.StatusConflict))
	assert.Equal(t, remote.CodeForbidden, codeForStatus(http.StatusUnauthorized))
	assert.Equal(t, remote.CodeUnavailable, codeForStatus(http.StatusBadGateway))
}

// Two editors talk to one server over HTTP and share changes through the
// websocket relay.
func TestEditorsConvergeOverServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := serve(t, "")
	c := New(ts.URL, "", ts.Client())

	sv, err := c.CreateSurvey(ctx, remote.Fields{"title": "Course evaluation"})
	require.NoError(t, err)

	openTab := func() *editor.Editor {
		e, err := editor.Open(ctx, c, sv.ID, editor.Options{Logger: quiet()})
		require.NoError(t, err)
		sync, err := broadcast.Open(ctx, broadcast.WSOpener{BaseURL: ts.URL, Header: c.Header(), Logger: quiet()}, sv.ID, quiet())
		require.NoError(t, err)
		t.Cleanup(func() { _ = sync.Close() })
		e.SetPublisher(sync)
		go func() { _ = sync.Run(ctx, e) }()
		return e
	}
	a := openTab()
	b := openTab()

	g, err := a.AddGroup(ctx, "Teaching")
	require.NoError(t, err)
	require.True(t, g.ID.Durable())
	q, err := a.AddQuestion(ctx, g.ID, editor.QuestionDraft{Text: "How clear were the lectures?", Type: model.TypeScale})
	require.NoError(t, err)
	require.Len(t, q.Options, 5)
	require.NoError(t, a.ChangeQuestionType(ctx, q.ID, model.TypeYesNo))

	require.Eventually(t, func() bool {
		s := b.Snapshot()
		bq, _, _ := s.FindQuestion(q.ID)
		return bq != nil && bq.Type == model.TypeYesNo && len(bq.Options) == 2
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Edit(ctx, broadcast.KindGroup, g.ID, editor.FieldTitle, "Teaching quality"))
	require.Eventually(t, func() bool {
		s := a.Snapshot()
		ag, _ := s.FindGroup(g.ID)
		return ag != nil && ag.Title == "Teaching quality"
	}, 3*time.Second, 20*time.Millisecond)

	stored, err := c.GetSurvey(ctx, sv.ID)
	require.NoError(t, err)
	require.NoError(t, stored.CheckIntegrity())
	sg, _ := stored.FindGroup(g.ID)
	require.NotNil(t, sg)
	assert.Equal(t, "Teaching quality", sg.Title)
	assert.Equal(t, 2, sg.Version)

	events, err := c.ReadEvents(ctx, sv.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "group.updated", events[0].Type)
}
