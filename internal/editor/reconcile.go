package editor

import (
	"surveyor/internal/broadcast"
	"surveyor/internal/model"
)

// PlaceGroup inserts a pending placeholder group at the end of the survey
// and returns its temporary id.
func (e *Editor) PlaceGroup(title string) model.ID {
	e.mu.Lock()
	id := e.placeGroupLocked(title)
	e.mu.Unlock()
	e.notify()
	return id
}

func (e *Editor) placeGroupLocked(title string) model.ID {
	id := e.nextTempLocked()
	e.survey.Groups = append(e.survey.Groups, model.Group{
		ID:        id,
		SurveyID:  e.survey.ID,
		Title:     title,
		Position:  len(e.survey.Groups) + 1,
		Pending:   true,
		Questions: []model.Question{},
	})
	return id
}

func (e *Editor) nextTempLocked() model.ID {
	id := e.ids.Next()
	e.placed[id] = true
	return id
}

// ownsLocked reports whether id is a placeholder created by this editor.
// Temporary ids seen in other tabs' changes are never trusted: two editors
// can hand out the same temporary id.
func (e *Editor) ownsLocked(id model.ID) bool {
	return id.Temporary() && e.placed[id]
}

// placeQuestionLocked appends a pending question with placeholder default
// options for its type and default settings.
func (e *Editor) placeQuestionLocked(g *model.Group, d QuestionDraft) model.Question {
	id := e.nextTempLocked()
	q := model.Question{
		ID:       id,
		GroupID:  g.ID,
		Code:     d.Code,
		Text:     d.Text,
		HelpText: d.HelpText,
		Type:     d.Type,
		Position: len(g.Questions) + 1,
		Pending:  true,
		Options:  e.placeDefaultOptionsLocked(id, d.Type),
	}
	g.Questions = append(g.Questions, q)
	e.survey.Settings[id] = model.DefaultSettings()
	return q.Clone()
}

func (e *Editor) placeDefaultOptionsLocked(questionID model.ID, t model.QuestionType) []model.Option {
	defs := t.Spec().DefaultOptions
	out := make([]model.Option, 0, len(defs))
	for i, d := range defs {
		out = append(out, model.Option{
			ID:            e.nextTempLocked(),
			QuestionID:    questionID,
			Text:          d.Text,
			IsSubquestion: d.IsSubquestion,
			Position:      i + 1,
			Pending:       true,
		})
	}
	return out
}

func (e *Editor) placeOptionLocked(q *model.Question, text string, isSubquestion bool) model.Option {
	o := model.Option{
		ID:            e.nextTempLocked(),
		QuestionID:    q.ID,
		Text:          text,
		IsSubquestion: isSubquestion,
		Position:      len(q.Options) + 1,
		Pending:       true,
	}
	q.Options = append(q.Options, o)
	return o
}

// ReconcileGroup swaps tempID for the confirmed group everywhere in the
// model and copies its persisted fields. Calling it again is a no-op.
func (e *Editor) ReconcileGroup(tempID model.ID, g model.Group) {
	e.mu.Lock()
	e.reconcileGroupLocked(tempID, g)
	e.mu.Unlock()
	e.notify()
}

func (e *Editor) ReconcileQuestion(tempID model.ID, q model.Question) {
	e.mu.Lock()
	e.reconcileQuestionLocked(tempID, q)
	e.mu.Unlock()
	e.notify()
}

func (e *Editor) ReconcileOption(tempID model.ID, o model.Option) {
	e.mu.Lock()
	e.reconcileOptionLocked(tempID, o)
	e.mu.Unlock()
	e.notify()
}

func (e *Editor) reconcileGroupLocked(tempID model.ID, d model.Group) {
	e.rewriteIDLocked(broadcast.KindGroup, tempID, d.ID)
	g, _ := e.survey.FindGroup(d.ID)
	if g == nil {
		return
	}
	g.SurveyID = d.SurveyID
	g.Version = d.Version
	g.Pending = false
	confirm(e, broadcast.KindGroup, d.ID, FieldTitle, &g.Title, d.Title)
}

func (e *Editor) reconcileQuestionLocked(tempID model.ID, d model.Question) {
	e.rewriteIDLocked(broadcast.KindQuestion, tempID, d.ID)
	q, _, _ := e.survey.FindQuestion(d.ID)
	if q == nil {
		return
	}
	q.Type = d.Type
	q.Version = d.Version
	q.Pending = false
	confirm(e, broadcast.KindQuestion, d.ID, FieldText, &q.Text, d.Text)
	confirm(e, broadcast.KindQuestion, d.ID, FieldHelpText, &q.HelpText, d.HelpText)
	confirm(e, broadcast.KindQuestion, d.ID, FieldCode, &q.Code, d.Code)
	confirm(e, broadcast.KindQuestion, d.ID, FieldMaxLength, &q.MaxLength, copyPtr(d.MaxLength))
	confirm(e, broadcast.KindQuestion, d.ID, FieldPoints, &q.Points, copyPtr(d.Points))
}

func (e *Editor) reconcileOptionLocked(tempID model.ID, d model.Option) {
	e.rewriteIDLocked(broadcast.KindOption, tempID, d.ID)
	o, _, _ := e.survey.FindOption(d.ID)
	if o == nil {
		return
	}
	o.Version = d.Version
	o.Pending = false
	confirm(e, broadcast.KindOption, d.ID, FieldText, &o.Text, d.Text)
	confirm(e, broadcast.KindOption, d.ID, FieldIsSubquestion, &o.IsSubquestion, d.IsSubquestion)
	confirm(e, broadcast.KindOption, d.ID, FieldImage, &o.Image, copyPtr(d.Image))
	confirm(e, broadcast.KindOption, d.ID, FieldIsCorrect, &o.IsCorrect, copyPtr(d.IsCorrect))
}

// confirm stores a persisted value. A field with a live edit in progress
// keeps the typed value and takes the persisted one as its baseline.
func confirm[T any](e *Editor, kind broadcast.Kind, id model.ID, field string, dst *T, v T) {
	k := draftKey{kind: kind, id: id, field: field}
	if _, typing := e.drafts[k]; typing {
		e.drafts[k] = v
		return
	}
	*dst = v
}

// rewriteIDLocked replaces every reference to from with to: the entity id,
// children's parent ids, settings keys, conditions, answers and live edits.
func (e *Editor) rewriteIDLocked(kind broadcast.Kind, from, to model.ID) {
	if from == to {
		return
	}
	delete(e.placed, from)
	s := &e.survey
	for gi := range s.Groups {
		g := &s.Groups[gi]
		if kind == broadcast.KindGroup && g.ID == from {
			g.ID = to
		}
		for qi := range g.Questions {
			q := &g.Questions[qi]
			if kind == broadcast.KindGroup && q.GroupID == from {
				q.GroupID = to
			}
			if kind == broadcast.KindQuestion && q.ID == from {
				q.ID = to
			}
			for oi := range q.Options {
				o := &q.Options[oi]
				if kind == broadcast.KindQuestion && o.QuestionID == from {
					o.QuestionID = to
				}
				if kind == broadcast.KindOption && o.ID == from {
					o.ID = to
				}
			}
		}
	}

	if kind == broadcast.KindQuestion {
		if qs, ok := s.Settings[from]; ok {
			delete(s.Settings, from)
			s.Settings[to] = qs
		}
		if a, ok := e.answers[from]; ok {
			delete(e.answers, from)
			e.answers[to] = a
		}
	}
	for qid, qs := range s.Settings {
		for ci := range qs.Conditions {
			c := &qs.Conditions[ci]
			switch kind {
			case broadcast.KindQuestion:
				if c.SourceQuestionID == from {
					c.SourceQuestionID = to
				}
				if c.TargetQuestionID != nil && *c.TargetQuestionID == from {
					v := to
					c.TargetQuestionID = &v
				}
			case broadcast.KindOption:
				if c.RequiredOptionID == from {
					c.RequiredOptionID = to
				}
			}
		}
		s.Settings[qid] = qs
	}
	if kind == broadcast.KindOption {
		for qid, a := range e.answers {
			for i, oid := range a.OptionIDs {
				if oid == from {
					a.OptionIDs[i] = to
				}
			}
			e.answers[qid] = a
		}
	}

	for k, v := range e.drafts {
		if k.kind == kind && k.id == from {
			delete(e.drafts, k)
			k.id = to
			e.drafts[k] = v
		}
	}
}

// Rollback removes a placeholder and every reference to it. Unknown ids are
// ignored.
func (e *Editor) Rollback(kind broadcast.Kind, tempID model.ID) {
	e.mu.Lock()
	e.removeLocked(kind, tempID)
	e.mu.Unlock()
	e.notify()
}

// removeLocked deletes an entity with its children and renumbers siblings.
// Settings and answers owned by removed questions go with them; conditions
// elsewhere that point at a removed entity are dropped only for temporary
// ids, since durable references may still be meaningful to the store.
func (e *Editor) removeLocked(kind broadcast.Kind, id model.ID) bool {
	s := &e.survey
	removedQuestions := []model.ID{}
	removedOptions := []model.ID{}
	collect := func(q model.Question) {
		removedQuestions = append(removedQuestions, q.ID)
		for _, o := range q.Options {
			removedOptions = append(removedOptions, o.ID)
		}
	}
	switch kind {
	case broadcast.KindGroup:
		g, gi := s.FindGroup(id)
		if g == nil {
			return false
		}
		for _, q := range g.Questions {
			collect(q)
		}
		s.Groups = append(s.Groups[:gi], s.Groups[gi+1:]...)
		s.RenumberGroups()
	case broadcast.KindQuestion:
		q, g, qi := s.FindQuestion(id)
		if q == nil {
			return false
		}
		collect(*q)
		g.Questions = append(g.Questions[:qi], g.Questions[qi+1:]...)
		g.RenumberQuestions()
	case broadcast.KindOption:
		o, q, oi := s.FindOption(id)
		if o == nil {
			return false
		}
		removedOptions = append(removedOptions, o.ID)
		q.Options = append(q.Options[:oi], q.Options[oi+1:]...)
		q.RenumberOptions()
	default:
		return false
	}

	if kind == broadcast.KindGroup {
		delete(e.placed, id)
	}
	// Question and option ids are checked against their own kind so the
	// cleanup holds even for a store that numbers each kind separately.
	goneQuestions := map[model.ID]bool{}
	goneOptions := map[model.ID]bool{}
	for _, qid := range removedQuestions {
		delete(s.Settings, qid)
		delete(e.answers, qid)
		delete(e.placed, qid)
		goneQuestions[qid] = true
	}
	for _, oid := range removedOptions {
		delete(e.placed, oid)
		goneOptions[oid] = true
	}
	for k := range e.drafts {
		switch {
		case k.kind == kind && k.id == id,
			(k.kind == broadcast.KindQuestion || k.kind == broadcast.KindSettings) && goneQuestions[k.id],
			k.kind == broadcast.KindOption && goneOptions[k.id]:
			delete(e.drafts, k)
		}
	}
	for qid, a := range e.answers {
		kept := a.OptionIDs[:0:0]
		for _, oid := range a.OptionIDs {
			if !goneOptions[oid] {
				kept = append(kept, oid)
			}
		}
		if len(kept) == 0 {
			delete(e.answers, qid)
			continue
		}
		e.answers[qid] = model.Answer{OptionIDs: kept}
	}
	if id.Temporary() {
		for qid, qs := range s.Settings {
			kept := qs.Conditions[:0:0]
			for _, c := range qs.Conditions {
				if goneQuestions[c.SourceQuestionID] || goneOptions[c.RequiredOptionID] ||
					(c.TargetQuestionID != nil && goneQuestions[*c.TargetQuestionID]) {
					continue
				}
				kept = append(kept, c)
			}
			qs.Conditions = kept
			s.Settings[qid] = qs
		}
	}
	return true
}
