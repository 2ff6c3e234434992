package store

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"surveyor/internal/editor"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type seeded struct {
	survey   model.Survey
	group    model.Group
	question model.Question
	options  []model.Option
}

func seedStore(t *testing.T, s *Store) seeded {
	t.Helper()
	ctx := context.Background()
	sv, err := s.CreateSurvey(ctx, remote.Fields{"title": "Customer feedback"})
	if err != nil {
		t.Fatalf("create survey: %v", err)
	}
	g, err := s.CreateGroup(ctx, sv.ID, remote.Fields{"title": "Basics"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	q, err := s.CreateQuestion(ctx, g.ID, remote.Fields{"text": "How did you hear about us?", "type": "single_choice"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	out := seeded{survey: sv, group: g, question: q}
	for _, text := range []string{"Friend", "Search", "Ad"} {
		o, err := s.CreateOption(ctx, q.ID, remote.Fields{"text": text})
		if err != nil {
			t.Fatalf("create option: %v", err)
		}
		out.options = append(out.options, o)
	}
	return out
}

func wantCode(t *testing.T, err error, code remote.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := remote.CodeOf(err); got != code {
		t.Fatalf("expected %s error, got %s (%v)", code, got, err)
	}
}

func TestCreateAssignsIDsFromOneSequence(t *testing.T) {
	s := openTestStore(t)
	fx := seedStore(t, s)

	ids := []model.ID{fx.survey.ID, fx.group.ID, fx.question.ID}
	for _, o := range fx.options {
		ids = append(ids, o.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Fatalf("ids not sequential across kinds: %v", ids)
		}
	}
	if fx.question.Code != "Q"+fx.question.ID.String() {
		t.Fatalf("default code = %q", fx.question.Code)
	}
	for i, o := range fx.options {
		if o.Position != i+1 || o.Version != 1 {
			t.Fatalf("option %d: position=%d version=%d", o.ID, o.Position, o.Version)
		}
	}

	got, err := s.GetSurvey(context.Background(), fx.survey.ID)
	if err != nil {
		t.Fatalf("get survey: %v", err)
	}
	if err := got.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if qs, ok := got.Settings[fx.question.ID]; !ok || qs.Required != model.RequiredOff {
		t.Fatalf("expected default settings, got %+v (ok=%v)", qs, ok)
	}
}

func TestGetSurveyNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSurvey(context.Background(), 42)
	wantCode(t, err, remote.CodeNotFound)
}

func TestStaleVersionIsRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	q, err := s.UpdateQuestion(ctx, fx.question.ID, remote.Fields{"text": "Where did you find us?", "version": 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if q.Version != 2 {
		t.Fatalf("version = %d, want 2", q.Version)
	}

	_, err = s.UpdateQuestion(ctx, fx.question.ID, remote.Fields{"text": "Stale", "version": 1})
	wantCode(t, err, remote.CodeConflict)

	got, _ := s.GetSurvey(ctx, fx.survey.ID)
	if q, _, _ := got.FindQuestion(fx.question.ID); q.Text != "Where did you find us?" {
		t.Fatalf("stale write applied: %q", q.Text)
	}
}

func TestPositionWritesDoNotBumpVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	o, err := s.UpdateOption(ctx, fx.options[2].ID, remote.Fields{"position": 1})
	if err != nil {
		t.Fatalf("update position: %v", err)
	}
	if o.Version != 1 || o.Position != 1 {
		t.Fatalf("position write: version=%d position=%d", o.Version, o.Position)
	}
	// No version token needed either.
	if _, err := s.UpdateGroup(ctx, fx.group.ID, remote.Fields{"position": 1, "version": 99}); err != nil {
		t.Fatalf("group position: %v", err)
	}
}

func TestDeleteRenumbersAndCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	if err := s.DeleteOption(ctx, fx.options[0].ID); err != nil {
		t.Fatalf("delete option: %v", err)
	}
	got, _ := s.GetSurvey(ctx, fx.survey.ID)
	if err := got.CheckIntegrity(); err != nil {
		t.Fatalf("integrity after option delete: %v", err)
	}
	q, _, _ := got.FindQuestion(fx.question.ID)
	if len(q.Options) != 2 || q.Options[0].Text != "Search" || q.Options[0].Position != 1 {
		t.Fatalf("unexpected options: %+v", q.Options)
	}

	if err := s.DeleteGroup(ctx, fx.group.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	got, _ = s.GetSurvey(ctx, fx.survey.ID)
	if len(got.Groups) != 0 || len(got.Settings) != 0 {
		t.Fatalf("cascade left rows: groups=%d settings=%d", len(got.Groups), len(got.Settings))
	}
	_, _, err := s.loadOption(ctx, s.db, fx.options[1].ID)
	wantCode(t, err, remote.CodeNotFound)
	wantCode(t, s.DeleteQuestion(ctx, fx.question.ID), remote.CodeNotFound)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	_, err := s.CreateGroup(ctx, fx.survey.ID, remote.Fields{"title": strings.Repeat("x", 201)})
	wantCode(t, err, remote.CodeInvalid)
	if !strings.Contains(err.Error(), "title") {
		t.Fatalf("error should name the field: %v", err)
	}

	_, err = s.CreateQuestion(ctx, fx.group.ID, remote.Fields{"type": "essay"})
	wantCode(t, err, remote.CodeInvalid)

	_, err = s.UpdateQuestion(ctx, fx.question.ID, remote.Fields{"maxLength": 10, "version": 1})
	wantCode(t, err, remote.CodeInvalid)

	_, err = s.UpdateOption(ctx, fx.options[0].ID, remote.Fields{"position": 0})
	wantCode(t, err, remote.CodeInvalid)

	bad := model.DefaultSettings()
	bad.MaxFileSizeKB = 10
	_, err = s.UpdateSettings(ctx, fx.question.ID, bad)
	wantCode(t, err, remote.CodeInvalid)

	_, err = s.CreateGroup(ctx, 999, remote.Fields{"title": "x"})
	wantCode(t, err, remote.CodeNotFound)
}

func TestTypeChangeSanitizes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	q, err := s.CreateQuestion(ctx, fx.group.ID, remote.Fields{"text": "Upload your CV", "type": "file_upload"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	qs := model.DefaultSettings()
	qs.MaxFileSizeKB = 512
	qs.AllowedFileTypes = []string{"pdf"}
	if _, err := s.UpdateSettings(ctx, q.ID, qs); err != nil {
		t.Fatalf("settings: %v", err)
	}

	q, err = s.UpdateQuestion(ctx, q.ID, remote.Fields{"type": "short_text", "maxLength": 80, "version": 1})
	if err != nil {
		t.Fatalf("type change: %v", err)
	}
	if q.MaxLength == nil || *q.MaxLength != 80 {
		t.Fatalf("maxLength = %v", q.MaxLength)
	}
	got, _ := s.GetSurvey(ctx, fx.survey.ID)
	if st := got.Settings[q.ID]; st.MaxFileSizeKB != 0 || st.AllowedFileTypes != nil {
		t.Fatalf("file settings kept after type change: %+v", st)
	}

	q, err = s.UpdateQuestion(ctx, q.ID, remote.Fields{"type": "yes_no", "version": q.Version})
	if err != nil {
		t.Fatalf("type change: %v", err)
	}
	if q.MaxLength != nil {
		t.Fatalf("maxLength kept for yes_no: %d", *q.MaxLength)
	}
}

func TestMoveQuestionBetweenGroups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)
	other, err := s.CreateGroup(ctx, fx.survey.ID, remote.Fields{"title": "More"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	q, err := s.UpdateQuestion(ctx, fx.question.ID, remote.Fields{"groupId": other.ID})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if q.GroupID != other.ID || q.Position != 1 || q.Version != 1 {
		t.Fatalf("moved question: group=%d position=%d version=%d", q.GroupID, q.Position, q.Version)
	}
	if len(q.Options) != 3 {
		t.Fatalf("options lost in move: %d", len(q.Options))
	}

	foreign, _ := s.CreateSurvey(ctx, remote.Fields{"title": "Other"})
	fg, _ := s.CreateGroup(ctx, foreign.ID, remote.Fields{"title": "Elsewhere"})
	_, err = s.UpdateQuestion(ctx, fx.question.ID, remote.Fields{"groupId": fg.ID})
	wantCode(t, err, remote.CodeInvalid)
}

func TestEventsAreAppendedPerWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)
	if _, err := s.UpdateSurvey(ctx, fx.survey.ID, remote.Fields{"title": "Renamed", "version": 1}); err != nil {
		t.Fatalf("update survey: %v", err)
	}

	all, err := s.ReadEvents(ctx, fx.survey.ID, 0)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	// survey + group + question + 3 options + rename
	if len(all) != 7 {
		t.Fatalf("got %d events", len(all))
	}
	if all[0].Type != "survey.created" || all[len(all)-1].Type != "survey.updated" {
		t.Fatalf("unexpected order: first=%s last=%s", all[0].Type, all[len(all)-1].Type)
	}

	last, err := s.ReadEvents(ctx, 0, 2)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(last) != 2 || last[1].Seq != all[len(all)-1].Seq {
		t.Fatalf("limit should keep the newest events: %+v", last)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fx := seedStore(t, s)
	id1, _ := s.ID(ctx)
	_ = s.Close()

	s2, err := Open(ctx, dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	id2, _ := s2.ID(ctx)
	if id1 == "" || id1 != id2 {
		t.Fatalf("store id changed: %q -> %q", id1, id2)
	}
	list, err := s2.ListSurveys(ctx)
	if err != nil || len(list) != 1 || list[0].ID != fx.survey.ID {
		t.Fatalf("list surveys: %+v, %v", list, err)
	}
}

func TestEditorOverStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fx := seedStore(t, s)

	e, err := editor.Open(ctx, s, fx.survey.ID, editor.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("open editor: %v", err)
	}
	q, err := e.AddQuestion(ctx, fx.group.ID, editor.QuestionDraft{Text: "Would you recommend us?", Type: model.TypeYesNo})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if err := e.ChangeQuestionType(ctx, q.ID, model.TypeRating); err != nil {
		t.Fatalf("change type: %v", err)
	}
	if err := e.MoveQuestion(ctx, q.ID, fx.group.ID, 1); err != nil {
		t.Fatalf("move question: %v", err)
	}

	stored, err := s.GetSurvey(ctx, fx.survey.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	local := e.Snapshot()
	if got, want := stored.QuestionOrder(), local.QuestionOrder(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("order differs: stored=%v local=%v", got, want)
	}
	sq, _, _ := stored.FindQuestion(q.ID)
	if sq.Type != model.TypeRating || len(sq.Options) != 5 {
		t.Fatalf("stored question: type=%s options=%d", sq.Type, len(sq.Options))
	}
	if err := stored.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("SURVEYOR_CONFIG_DIR", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if *cfg != (Config{}) {
		t.Fatalf("expected empty config, got %+v", cfg)
	}

	cfg.Server = "http://localhost:8080"
	cfg.Broadcast = "redis://localhost:6379/0"
	cfg.LogLevel = "debug"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *cfg {
		t.Fatalf("round trip: got %+v want %+v", got, cfg)
	}
}

func TestDiscoverDir(t *testing.T) {
	root := t.TempDir()
	s, err := Open(context.Background(), root+"/"+dirName, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	nested := root + "/a/b"
	if found, ok := DiscoverDir(nested); !ok || found != root+"/"+dirName {
		t.Fatalf("discover from %s: %q %v", nested, found, ok)
	}
}
