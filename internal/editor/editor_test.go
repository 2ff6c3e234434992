package editor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/remote/remotetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1700000000000)

type fixture struct {
	mem      *remotetest.Memory
	survey   model.ID
	group    model.ID
	question model.ID
	options  []model.ID
}

// seed stores one survey with one group holding a single-choice question
// with the options Friend, Search and Ad.
func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	mem := remotetest.NewMemory()
	s, err := mem.CreateSurvey(ctx, remote.Fields{"title": "Customer feedback"})
	require.NoError(t, err)
	g, err := mem.CreateGroup(ctx, s.ID, remote.Fields{"title": "Basics"})
	require.NoError(t, err)
	q, err := mem.CreateQuestion(ctx, g.ID, remote.Fields{"text": "How did you hear about us?", "type": "single_choice"})
	require.NoError(t, err)
	fx := fixture{mem: mem, survey: s.ID, group: g.ID, question: q.ID}
	for _, text := range []string{"Friend", "Search", "Ad"} {
		o, err := mem.CreateOption(ctx, q.ID, remote.Fields{"text": text})
		require.NoError(t, err)
		fx.options = append(fx.options, o.ID)
	}
	return fx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func open(t *testing.T, fx fixture) *Editor {
	t.Helper()
	e, err := Open(context.Background(), fx.mem, fx.survey, Options{
		Logger: quietLogger(),
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return e
}

// holdFirst blocks the first call of op until release runs. held is closed
// once that call is waiting.
func holdFirst(t *testing.T, mem *remotetest.Memory, op string) (held <-chan struct{}, release func()) {
	t.Helper()
	h := make(chan struct{})
	r := make(chan struct{})
	var n atomic.Int32
	mem.Delay = func(got string) {
		if got == op && n.Add(1) == 1 {
			close(h)
			<-r
		}
	}
	var once sync.Once
	release = func() { once.Do(func() { close(r) }) }
	t.Cleanup(release)
	return h, release
}

func findQuestion(t *testing.T, s model.Survey, id model.ID) model.Question {
	t.Helper()
	q, _, _ := s.FindQuestion(id)
	require.NotNil(t, q, "question %d", id)
	return *q
}

func optionTexts(q model.Question) []string {
	out := []string{}
	for _, o := range q.Options {
		out = append(out, o.Text)
	}
	return out
}

// requireSettled checks that no placeholder survives and the model is intact.
func requireSettled(t *testing.T, s model.Survey) {
	t.Helper()
	require.NoError(t, s.CheckIntegrity())
	for _, g := range s.Groups {
		assert.False(t, g.ID.Temporary(), "group %d", g.ID)
		assert.False(t, g.Pending)
		for _, q := range g.Questions {
			assert.False(t, q.ID.Temporary(), "question %d", q.ID)
			assert.False(t, q.Pending)
			for _, o := range q.Options {
				assert.False(t, o.ID.Temporary(), "option %d", o.ID)
				assert.False(t, o.Pending)
			}
		}
	}
	for qid, qs := range s.Settings {
		assert.False(t, qid.Temporary(), "settings key %d", qid)
		for _, c := range qs.Conditions {
			assert.False(t, c.SourceQuestionID.Temporary())
			assert.False(t, c.RequiredOptionID.Temporary())
		}
	}
}

func TestTempIDsAreNegativeAndStrictlyDecreasing(t *testing.T) {
	now := fixedNow
	ids := NewTempIDs(func() time.Time { return now })

	first := ids.Next()
	assert.Equal(t, model.ID(-1700000000000), first)
	second := ids.Next()
	assert.Equal(t, first-1, second)

	now = now.Add(-time.Hour)
	third := ids.Next()
	assert.Less(t, int64(third), int64(second))

	now = time.UnixMilli(0)
	assert.True(t, ids.Next().Temporary())
}

func TestOpenSortsAndKeepsIntegrity(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	s := e.Snapshot()
	requireSettled(t, s)
	assert.Equal(t, []string{"Friend", "Search", "Ad"}, optionTexts(findQuestion(t, s, fx.question)))
	assert.Equal(t, model.RequiredOff, e.Settings(fx.question).Required)
}

func TestSnapshotIsACopy(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	s := e.Snapshot()
	s.Groups[0].Questions[0].Options[0].Text = "changed"
	assert.Equal(t, "Friend", findQuestion(t, e.Snapshot(), fx.question).Options[0].Text)
}

func TestWatchSignalsChanges(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	ch, cancel := e.Watch()
	defer cancel()

	require.NoError(t, e.SetField(broadcast.KindQuestion, fx.question, FieldText, "Typing"))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestSetFieldRejectsUnknownFields(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)

	var ve ValidationError
	require.ErrorAs(t, e.SetField(broadcast.KindQuestion, fx.question, FieldPosition, 3), &ve)

	var nf NotFoundError
	require.ErrorAs(t, e.SetField(broadcast.KindQuestion, 999, FieldText, "x"), &nf)
}

func TestCommitFieldWithoutEditIsNoop(t *testing.T) {
	fx := seed(t)
	e := open(t, fx)
	calls := len(fx.mem.Calls())
	require.NoError(t, e.CommitField(context.Background(), broadcast.KindQuestion, fx.question, FieldText))
	assert.Len(t, fx.mem.Calls(), calls)
}

func TestEditBumpsVersion(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	require.NoError(t, e.Edit(ctx, broadcast.KindQuestion, fx.question, FieldText, "Where did you find us?"))
	require.NoError(t, e.Edit(ctx, broadcast.KindQuestion, fx.question, FieldHelpText, "Pick one"))

	q := findQuestion(t, e.Snapshot(), fx.question)
	assert.Equal(t, 3, q.Version)
	assert.False(t, e.HasDrafts())
	assert.Equal(t, fixedNow, e.LastSaved())

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, q, findQuestion(t, stored, fx.question))
}

func TestEditSurveyTitle(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	require.NoError(t, e.Edit(ctx, broadcast.KindSurvey, fx.survey, FieldTitle, "Onboarding feedback"))
	s := e.Snapshot()
	assert.Equal(t, "Onboarding feedback", s.Title)
	assert.Equal(t, 2, s.Version)

	stored, err := fx.mem.GetSurvey(ctx, fx.survey)
	require.NoError(t, err)
	assert.Equal(t, "Onboarding feedback", stored.Title)
}

func TestCommitFieldValidatesMaxLength(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	e := open(t, fx)

	require.NoError(t, e.SetField(broadcast.KindQuestion, fx.question, FieldMaxLength, 10))
	var ve ValidationError
	require.ErrorAs(t, e.CommitField(ctx, broadcast.KindQuestion, fx.question, FieldMaxLength), &ve)
	assert.Nil(t, findQuestion(t, e.Snapshot(), fx.question).MaxLength)
}

func TestMessageIsHumanReadable(t *testing.T) {
	assert.Contains(t, Message(ConflictError{Kind: broadcast.KindQuestion, ID: 3}), "Reload")
	assert.Contains(t, Message(RemoteError{Op: "save", Err: remote.NewUnavailableError("down")}), "try again")
	assert.Contains(t, Message(RemoteError{Op: "save", Err: remote.NewForbiddenError("view token")}), "not allowed")
	assert.Equal(t, "", Message(nil))
}

func TestClassify(t *testing.T) {
	err := classify("save", broadcast.KindOption, 5, remote.NewConflictError("stale"))
	assert.True(t, IsReloadRequired(err))

	err = classify("save", broadcast.KindOption, 5, remote.NewInvalidError("text: too long"))
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "text: too long", ve.Message)

	err = classify("save", broadcast.KindOption, 5, io.ErrUnexpectedEOF)
	var re RemoteError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
