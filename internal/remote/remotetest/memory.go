// Package remotetest provides an in-memory remote.API for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// Memory is an in-memory remote.API with the same rules as the SQLite
// store: one id sequence for every kind, version checks on content writes,
// append-on-create and sibling renumbering on delete.
type Memory struct {
	mu      sync.Mutex
	next    model.ID
	surveys map[model.ID]*model.Survey
	fail    []failure
	calls   []string
	// Delay, when set, runs before every call outside the lock.
	Delay func(op string)
}

type failure struct {
	op  string
	n   int
	err error
}

func NewMemory() *Memory {
	return &Memory{next: 1, surveys: map[model.ID]*model.Survey{}}
}

// FailOn makes the nth upcoming call of op (1-based) fail with err. An empty
// op matches any call.
func (m *Memory) FailOn(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = append(m.fail, failure{op: op, n: n, err: err})
}

// Calls returns the operations seen so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// SetNextID moves the id sequence forward.
func (m *Memory) SetNextID(id model.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.next {
		m.next = id
	}
}

func (m *Memory) enter(op string) error {
	if m.Delay != nil {
		m.Delay(op)
	}
	m.mu.Lock()
	m.calls = append(m.calls, op)
	for i := range m.fail {
		f := &m.fail[i]
		if f.n <= 0 || (f.op != "" && f.op != op) {
			continue
		}
		f.n--
		if f.n == 0 {
			m.mu.Unlock()
			return f.err
		}
	}
	return nil
}

func (m *Memory) id() model.ID {
	id := m.next
	m.next++
	return id
}

func (m *Memory) GetSurvey(ctx context.Context, id model.ID) (model.Survey, error) {
	if err := m.enter("GetSurvey"); err != nil {
		return model.Survey{}, err
	}
	defer m.mu.Unlock()
	s, ok := m.surveys[id]
	if !ok {
		return model.Survey{}, remote.NewNotFoundError(fmt.Sprintf("survey %d not found", id))
	}
	out := s.Clone()
	out.SortByPosition()
	return out, nil
}

func (m *Memory) CreateSurvey(ctx context.Context, f remote.Fields) (model.Survey, error) {
	if err := m.enter("CreateSurvey"); err != nil {
		return model.Survey{}, err
	}
	defer m.mu.Unlock()
	s := &model.Survey{ID: m.id(), Version: 1, Groups: []model.Group{}, Settings: map[model.ID]model.QuestionSettings{}, UpdatedAt: time.Now().UTC()}
	if err := str(f, "title", &s.Title); err != nil {
		return model.Survey{}, err
	}
	m.surveys[s.ID] = s
	return s.Clone(), nil
}

func (m *Memory) UpdateSurvey(ctx context.Context, id model.ID, f remote.Fields) (model.Survey, error) {
	if err := m.enter("UpdateSurvey"); err != nil {
		return model.Survey{}, err
	}
	defer m.mu.Unlock()
	s, ok := m.surveys[id]
	if !ok {
		return model.Survey{}, remote.NewNotFoundError(fmt.Sprintf("survey %d not found", id))
	}
	content, err := checkVersion(f, s.Version, "title")
	if err != nil {
		return model.Survey{}, err
	}
	if err := str(f, "title", &s.Title); err != nil {
		return model.Survey{}, err
	}
	if content {
		s.Version++
	}
	s.UpdatedAt = time.Now().UTC()
	return s.Clone(), nil
}

func (m *Memory) CreateGroup(ctx context.Context, surveyID model.ID, f remote.Fields) (model.Group, error) {
	if err := m.enter("CreateGroup"); err != nil {
		return model.Group{}, err
	}
	defer m.mu.Unlock()
	s, ok := m.surveys[surveyID]
	if !ok {
		return model.Group{}, remote.NewNotFoundError(fmt.Sprintf("survey %d not found", surveyID))
	}
	g := model.Group{ID: m.id(), SurveyID: surveyID, Position: len(s.Groups) + 1, Version: 1, Questions: []model.Question{}}
	if err := str(f, "title", &g.Title); err != nil {
		return model.Group{}, err
	}
	s.Groups = append(s.Groups, g)
	return g.Clone(), nil
}

func (m *Memory) UpdateGroup(ctx context.Context, id model.ID, f remote.Fields) (model.Group, error) {
	if err := m.enter("UpdateGroup"); err != nil {
		return model.Group{}, err
	}
	defer m.mu.Unlock()
	s, g := m.findGroup(id)
	if g == nil {
		return model.Group{}, remote.NewNotFoundError(fmt.Sprintf("group %d not found", id))
	}
	content, err := checkVersion(f, g.Version, "title")
	if err != nil {
		return model.Group{}, err
	}
	if err := str(f, "title", &g.Title); err != nil {
		return model.Group{}, err
	}
	if err := num(f, "position", &g.Position); err != nil {
		return model.Group{}, err
	}
	if content {
		g.Version++
	}
	s.SortByPosition()
	_, g = m.findGroup(id)
	return g.Clone(), nil
}

func (m *Memory) DeleteGroup(ctx context.Context, id model.ID) error {
	if err := m.enter("DeleteGroup"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	s, g := m.findGroup(id)
	if g == nil {
		return remote.NewNotFoundError(fmt.Sprintf("group %d not found", id))
	}
	for _, q := range g.Questions {
		delete(s.Settings, q.ID)
	}
	_, gi := s.FindGroup(id)
	s.Groups = append(s.Groups[:gi], s.Groups[gi+1:]...)
	s.RenumberGroups()
	return nil
}

func (m *Memory) CreateQuestion(ctx context.Context, groupID model.ID, f remote.Fields) (model.Question, error) {
	if err := m.enter("CreateQuestion"); err != nil {
		return model.Question{}, err
	}
	defer m.mu.Unlock()
	s, g := m.findGroup(groupID)
	if g == nil {
		return model.Question{}, remote.NewNotFoundError(fmt.Sprintf("group %d not found", groupID))
	}
	q := model.Question{ID: m.id(), GroupID: groupID, Position: len(g.Questions) + 1, Version: 1, Type: model.TypeSingleChoice, Options: []model.Option{}}
	if err := applyQuestion(f, &q); err != nil {
		return model.Question{}, err
	}
	g.Questions = append(g.Questions, q)
	s.Settings[q.ID] = model.DefaultSettings()
	return q.Clone(), nil
}

func (m *Memory) UpdateQuestion(ctx context.Context, id model.ID, f remote.Fields) (model.Question, error) {
	if err := m.enter("UpdateQuestion"); err != nil {
		return model.Question{}, err
	}
	defer m.mu.Unlock()
	s, q, g := m.findQuestion(id)
	if q == nil {
		return model.Question{}, remote.NewNotFoundError(fmt.Sprintf("question %d not found", id))
	}
	content, err := checkVersion(f, q.Version, "text", "helpText", "code", "type", "maxLength", "points")
	if err != nil {
		return model.Question{}, err
	}
	updated := q.Clone()
	if err := applyQuestion(f, &updated); err != nil {
		return model.Question{}, err
	}
	if err := num(f, "position", &updated.Position); err != nil {
		return model.Question{}, err
	}
	if content {
		updated.Version++
	}
	if updated.Type != q.Type {
		if !updated.Type.Spec().MaxLength {
			updated.MaxLength = nil
		}
		if qs, ok := s.Settings[id]; ok {
			s.Settings[id] = qs.ForType(updated.Type)
		}
	}
	var target model.ID
	if raw, ok := f["groupId"]; ok {
		if err := convert(raw, &target); err != nil {
			return model.Question{}, remote.NewInvalidError("groupId: " + err.Error())
		}
	}
	if target != 0 && target != g.ID {
		dst, _ := s.FindGroup(target)
		if dst == nil {
			return model.Question{}, remote.NewNotFoundError(fmt.Sprintf("group %d not found", target))
		}
		_, _, qi := s.FindQuestion(id)
		g.Questions = append(g.Questions[:qi], g.Questions[qi+1:]...)
		updated.GroupID = target
		dst, _ = s.FindGroup(target)
		dst.Questions = append(dst.Questions, updated)
	} else {
		*q = updated
	}
	s.SortByPosition()
	_, q, _ = m.findQuestion(id)
	return q.Clone(), nil
}

func (m *Memory) DeleteQuestion(ctx context.Context, id model.ID) error {
	if err := m.enter("DeleteQuestion"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	s, q, g := m.findQuestion(id)
	if q == nil {
		return remote.NewNotFoundError(fmt.Sprintf("question %d not found", id))
	}
	_, _, qi := s.FindQuestion(id)
	g.Questions = append(g.Questions[:qi], g.Questions[qi+1:]...)
	g.RenumberQuestions()
	delete(s.Settings, id)
	return nil
}

func (m *Memory) CreateOption(ctx context.Context, questionID model.ID, f remote.Fields) (model.Option, error) {
	if err := m.enter("CreateOption"); err != nil {
		return model.Option{}, err
	}
	defer m.mu.Unlock()
	_, q, _ := m.findQuestion(questionID)
	if q == nil {
		return model.Option{}, remote.NewNotFoundError(fmt.Sprintf("question %d not found", questionID))
	}
	o := model.Option{ID: m.id(), QuestionID: questionID, Position: len(q.Options) + 1, Version: 1}
	if err := applyOption(f, &o); err != nil {
		return model.Option{}, err
	}
	q.Options = append(q.Options, o)
	return o.Clone(), nil
}

func (m *Memory) UpdateOption(ctx context.Context, id model.ID, f remote.Fields) (model.Option, error) {
	if err := m.enter("UpdateOption"); err != nil {
		return model.Option{}, err
	}
	defer m.mu.Unlock()
	s, o := m.findOption(id)
	if o == nil {
		return model.Option{}, remote.NewNotFoundError(fmt.Sprintf("option %d not found", id))
	}
	content, err := checkVersion(f, o.Version, "text", "isSubquestion", "image", "isCorrect")
	if err != nil {
		return model.Option{}, err
	}
	if err := applyOption(f, o); err != nil {
		return model.Option{}, err
	}
	if err := num(f, "position", &o.Position); err != nil {
		return model.Option{}, err
	}
	if content {
		o.Version++
	}
	s.SortByPosition()
	_, o = m.findOption(id)
	return o.Clone(), nil
}

func (m *Memory) DeleteOption(ctx context.Context, id model.ID) error {
	if err := m.enter("DeleteOption"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	s, o := m.findOption(id)
	if o == nil {
		return remote.NewNotFoundError(fmt.Sprintf("option %d not found", id))
	}
	_, q, oi := s.FindOption(id)
	q.Options = append(q.Options[:oi], q.Options[oi+1:]...)
	q.RenumberOptions()
	return nil
}

func (m *Memory) UpdateSettings(ctx context.Context, questionID model.ID, qs model.QuestionSettings) (model.QuestionSettings, error) {
	if err := m.enter("UpdateSettings"); err != nil {
		return model.QuestionSettings{}, err
	}
	defer m.mu.Unlock()
	s, q, _ := m.findQuestion(questionID)
	if q == nil {
		return model.QuestionSettings{}, remote.NewNotFoundError(fmt.Sprintf("question %d not found", questionID))
	}
	if err := qs.Validate(q.Type); err != nil {
		return model.QuestionSettings{}, remote.NewInvalidError(err.Error())
	}
	s.Settings[questionID] = qs.Clone()
	return qs.Clone(), nil
}

func (m *Memory) findGroup(id model.ID) (*model.Survey, *model.Group) {
	for _, sid := range m.surveyIDs() {
		s := m.surveys[sid]
		if g, _ := s.FindGroup(id); g != nil {
			return s, g
		}
	}
	return nil, nil
}

func (m *Memory) findQuestion(id model.ID) (*model.Survey, *model.Question, *model.Group) {
	for _, sid := range m.surveyIDs() {
		s := m.surveys[sid]
		if q, g, _ := s.FindQuestion(id); q != nil {
			return s, q, g
		}
	}
	return nil, nil, nil
}

func (m *Memory) findOption(id model.ID) (*model.Survey, *model.Option) {
	for _, sid := range m.surveyIDs() {
		s := m.surveys[sid]
		if o, _, _ := s.FindOption(id); o != nil {
			return s, o
		}
	}
	return nil, nil
}

func (m *Memory) surveyIDs() []model.ID {
	ids := make([]model.ID, 0, len(m.surveys))
	for id := range m.surveys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// checkVersion enforces the version token when f touches a content field.
func checkVersion(f remote.Fields, current int, contentFields ...string) (bool, error) {
	content := false
	for _, k := range contentFields {
		if _, ok := f[k]; ok {
			content = true
		}
	}
	if !content {
		return false, nil
	}
	raw, ok := f[remote.FieldVersion]
	if !ok {
		return true, nil
	}
	var v int
	if err := convert(raw, &v); err != nil {
		return false, remote.NewInvalidError("version: " + err.Error())
	}
	if v != current {
		return false, remote.NewConflictError(fmt.Sprintf("version %d is stale (current %d)", v, current))
	}
	return true, nil
}

func applyQuestion(f remote.Fields, q *model.Question) error {
	for _, step := range []error{
		str(f, "text", &q.Text),
		str(f, "helpText", &q.HelpText),
		str(f, "code", &q.Code),
		ptr(f, "maxLength", &q.MaxLength),
		ptr(f, "points", &q.Points),
	} {
		if step != nil {
			return step
		}
	}
	if raw, ok := f["type"]; ok {
		var t string
		if err := convert(raw, &t); err != nil {
			return remote.NewInvalidError("type: " + err.Error())
		}
		qt, err := model.ParseQuestionType(t)
		if err != nil {
			return remote.NewInvalidError(err.Error())
		}
		q.Type = qt
	}
	return nil
}

func applyOption(f remote.Fields, o *model.Option) error {
	for _, step := range []error{
		str(f, "text", &o.Text),
		flag(f, "isSubquestion", &o.IsSubquestion),
		ptr(f, "image", &o.Image),
		ptr(f, "isCorrect", &o.IsCorrect),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}

func str(f remote.Fields, key string, dst *string) error   { return field(f, key, dst) }
func num(f remote.Fields, key string, dst *int) error      { return field(f, key, dst) }
func flag(f remote.Fields, key string, dst *bool) error    { return field(f, key, dst) }
func ptr[T any](f remote.Fields, key string, dst **T) error { return field(f, key, dst) }

func field[T any](f remote.Fields, key string, dst *T) error {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	if err := convert(raw, dst); err != nil {
		return remote.NewInvalidError(key + ": " + err.Error())
	}
	return nil
}

func convert(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
