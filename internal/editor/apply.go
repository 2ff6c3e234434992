package editor

import (
	"context"
	"encoding/json"
	"fmt"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
)

var _ broadcast.Applier = (*Editor)(nil)

// ApplyChange applies a change committed by another tab. It never calls the
// store except for reload requests. Changes about entities this editor does
// not have return broadcast.ErrStale.
func (e *Editor) ApplyChange(ctx context.Context, c broadcast.Change) error {
	if c.Op == broadcast.OpReload {
		return e.Reload(ctx)
	}
	if c.ID.Temporary() {
		return broadcast.ErrStale
	}
	e.mu.Lock()
	if c.SurveyID != 0 && c.SurveyID != e.survey.ID {
		e.mu.Unlock()
		return broadcast.ErrStale
	}
	var err error
	switch c.Op {
	case broadcast.OpSet:
		err = e.applySetLocked(c)
	case broadcast.OpReplace:
		err = e.applyReplaceLocked(c)
	case broadcast.OpDelete:
		if !e.removeLocked(c.Kind, c.ID) {
			err = broadcast.ErrStale
		}
	default:
		err = fmt.Errorf("unknown change op %q", c.Op)
	}
	e.mu.Unlock()
	if err == nil {
		e.notify()
	}
	return err
}

func (e *Editor) applySetLocked(c broadcast.Change) error {
	if _, ok := getField(&e.survey, c.Kind, c.ID, c.Field); !ok {
		return broadcast.ErrStale
	}
	k := draftKey{kind: c.Kind, id: c.ID, field: c.Field}
	if _, typing := e.drafts[k]; typing {
		// The local typist wins at commit time; the remote value becomes the
		// baseline a failed commit falls back to.
		v, err := decodeFieldValue(&e.survey, c.Kind, c.ID, c.Field, c.Value)
		if err != nil {
			return err
		}
		e.drafts[k] = v
	} else if err := setField(&e.survey, c.Kind, c.ID, c.Field, c.Value); err != nil {
		return err
	}
	setVersion(&e.survey, c.Kind, c.ID, c.Version)
	if c.Field == FieldPosition {
		e.survey.SortByPosition()
	}
	return nil
}

// decodeFieldValue decodes raw into the Go type of the named field without
// touching the model.
func decodeFieldValue(s *model.Survey, kind broadcast.Kind, id model.ID, field string, raw json.RawMessage) (any, error) {
	scratch := model.Survey{ID: s.ID, Title: s.Title}
	switch kind {
	case broadcast.KindGroup:
		scratch.Groups = []model.Group{{ID: id}}
	case broadcast.KindQuestion:
		scratch.Groups = []model.Group{{Questions: []model.Question{{ID: id}}}}
	case broadcast.KindOption:
		scratch.Groups = []model.Group{{Questions: []model.Question{{Options: []model.Option{{ID: id}}}}}}
	}
	if err := setField(&scratch, kind, id, field, raw); err != nil {
		return nil, err
	}
	v, _ := getField(&scratch, kind, id, field)
	return v, nil
}

func (e *Editor) applyReplaceLocked(c broadcast.Change) error {
	switch c.Kind {
	case broadcast.KindQuestion:
		var in model.Question
		if err := json.Unmarshal(c.Entity, &in); err != nil {
			return fmt.Errorf("decode question: %w", err)
		}
		q, _, _ := e.survey.FindQuestion(c.ID)
		if q == nil {
			return broadcast.ErrStale
		}
		in.Options = append(committedOptions(in.Options), e.ownOptionsLocked(q.Options)...)
		in.ID = q.ID
		in.GroupID = q.GroupID
		in.Position = q.Position
		in.Pending = false
		for k := range e.drafts {
			if k.kind == broadcast.KindQuestion && k.id == c.ID {
				cur, _ := getField(&e.survey, k.kind, k.id, k.field)
				base, _ := getField(&model.Survey{Groups: []model.Group{{Questions: []model.Question{in}}}}, k.kind, k.id, k.field)
				e.drafts[k] = base
				_ = setQuestionField(&in, k.field, cur)
			}
		}
		*q = in
		q.RenumberOptions()
		if qs, ok := e.survey.Settings[c.ID]; ok {
			e.survey.Settings[c.ID] = qs.ForType(q.Type)
		}
		e.dropStaleAnswerLocked(q)
	case broadcast.KindSettings:
		var in model.QuestionSettings
		if err := json.Unmarshal(c.Entity, &in); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
		if q, _, _ := e.survey.FindQuestion(c.ID); q == nil {
			return broadcast.ErrStale
		}
		e.survey.Settings[c.ID] = in
	case broadcast.KindGroup:
		var in model.Group
		if err := json.Unmarshal(c.Entity, &in); err != nil {
			return fmt.Errorf("decode group: %w", err)
		}
		g, _ := e.survey.FindGroup(c.ID)
		if g == nil {
			return broadcast.ErrStale
		}
		questions := make([]model.Question, 0, len(in.Questions))
		for _, nq := range in.Questions {
			if nq.Pending || nq.ID.Temporary() {
				continue
			}
			nq.GroupID = g.ID
			nq.Options = committedOptions(nq.Options)
			if lq, _, _ := e.survey.FindQuestion(nq.ID); lq != nil {
				nq.Options = append(nq.Options, e.ownOptionsLocked(lq.Options)...)
			}
			questions = append(questions, nq)
		}
		for _, lq := range g.Questions {
			if lq.Pending && e.ownsLocked(lq.ID) {
				questions = append(questions, lq)
			}
		}
		in.ID = g.ID
		in.SurveyID = g.SurveyID
		in.Position = g.Position
		in.Pending = false
		in.Questions = questions
		k := draftKey{kind: broadcast.KindGroup, id: g.ID, field: FieldTitle}
		if _, typing := e.drafts[k]; typing {
			e.drafts[k] = in.Title
			in.Title = g.Title
		}
		*g = in
		g.RenumberQuestions()
		for qi := range g.Questions {
			q := &g.Questions[qi]
			q.RenumberOptions()
			e.dropStaleAnswerLocked(q)
		}
	default:
		return fmt.Errorf("cannot replace %s", c.Kind)
	}
	return nil
}

// committedOptions drops options another tab was still creating; their
// temporary ids mean nothing here.
func committedOptions(in []model.Option) []model.Option {
	out := make([]model.Option, 0, len(in))
	for _, o := range in {
		if o.Pending || o.ID.Temporary() {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ownOptionsLocked returns the placeholders among opts that this editor
// created and is still saving.
func (e *Editor) ownOptionsLocked(opts []model.Option) []model.Option {
	out := []model.Option{}
	for _, o := range opts {
		if o.Pending && e.ownsLocked(o.ID) {
			out = append(out, o)
		}
	}
	return out
}

func setQuestionField(q *model.Question, field string, v any) error {
	s := model.Survey{Groups: []model.Group{{Questions: []model.Question{*q}}}}
	if err := setField(&s, broadcast.KindQuestion, q.ID, field, v); err != nil {
		return err
	}
	*q = s.Groups[0].Questions[0]
	return nil
}

// dropStaleAnswerLocked removes selections of options the question no
// longer has.
func (e *Editor) dropStaleAnswerLocked(q *model.Question) {
	a, ok := e.answers[q.ID]
	if !ok {
		return
	}
	kept := []model.ID{}
	for _, oid := range a.OptionIDs {
		for _, o := range q.Options {
			if o.ID == oid {
				kept = append(kept, oid)
				break
			}
		}
	}
	if len(kept) == 0 {
		delete(e.answers, q.ID)
		return
	}
	e.answers[q.ID] = model.Answer{OptionIDs: kept}
}
