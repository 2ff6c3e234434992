package editor

import (
	"context"
	"strings"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

const defaultGroupTitle = "Untitled group"

// AddGroup appends a group. The placeholder is visible immediately and is
// replaced by the confirmed group, or removed if the store rejects it.
func (e *Editor) AddGroup(ctx context.Context, title string) (model.Group, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultGroupTitle
	}
	var (
		tempID   model.ID
		surveyID model.ID
		created  model.Group
	)
	err := e.run(ctx, mutation{
		op:   "add group",
		kind: broadcast.KindGroup,
		apply: func() (func(), error) {
			surveyID = e.survey.ID
			tempID = e.placeGroupLocked(title)
			return func() { e.removeLocked(broadcast.KindGroup, tempID) }, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			g, err := e.api.CreateGroup(ctx, surveyID, remote.Fields{FieldTitle: title})
			if err != nil {
				return nil, err
			}
			created = g
			return func() []broadcast.Change {
				e.reconcileGroupLocked(tempID, g)
				return []broadcast.Change{broadcast.Reload()}
			}, nil
		},
	})
	if err != nil {
		return model.Group{}, err
	}
	return e.group(created.ID)
}

// RenameGroup sets and commits a group title.
func (e *Editor) RenameGroup(ctx context.Context, id model.ID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ValidationError{Field: FieldTitle, Message: "must not be empty"}
	}
	return e.Edit(ctx, broadcast.KindGroup, id, FieldTitle, title)
}

// MoveGroup moves a group to a 1-based position and renumbers the rest.
func (e *Editor) MoveGroup(ctx context.Context, id model.ID, position int) error {
	var moves []move
	return e.run(ctx, mutation{
		op:   "move group",
		kind: broadcast.KindGroup,
		id:   id,
		apply: func() (func(), error) {
			g, gi := e.survey.FindGroup(id)
			if g == nil {
				return nil, NotFoundError{Kind: broadcast.KindGroup, ID: id}
			}
			if g.Pending {
				return nil, PendingError{Kind: broadcast.KindGroup, ID: id}
			}
			before := map[model.ID]int{}
			order := []model.ID{}
			pending := map[model.ID]bool{}
			for _, x := range e.survey.Groups {
				before[x.ID] = x.Position
				order = append(order, x.ID)
				pending[x.ID] = x.Pending
			}
			to := clampPosition(position, len(e.survey.Groups)) - 1
			e.survey.Groups = moveSlice(e.survey.Groups, gi, to)
			e.survey.RenumberGroups()
			after := []model.ID{}
			for _, x := range e.survey.Groups {
				after = append(after, x.ID)
			}
			moves = diffPositions(before, after, pending)
			return func() { reorderGroups(&e.survey, order) }, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if err := e.persistPositions(ctx, broadcast.KindGroup, moves); err != nil {
				return nil, err
			}
			return func() []broadcast.Change { return positionChanges(broadcast.KindGroup, moves) }, nil
		},
	})
}

// DeleteGroup removes a group with its questions. The store renumbers the
// remaining groups itself.
func (e *Editor) DeleteGroup(ctx context.Context, id model.ID) error {
	return e.run(ctx, mutation{
		op:   "delete group",
		kind: broadcast.KindGroup,
		id:   id,
		apply: func() (func(), error) {
			g, gi := e.survey.FindGroup(id)
			if g == nil {
				return nil, NotFoundError{Kind: broadcast.KindGroup, ID: id}
			}
			if g.Pending || hasPendingChildren(g) {
				return nil, PendingError{Kind: broadcast.KindGroup, ID: id}
			}
			saved := g.Clone()
			owned := e.ownedLocked(saved.Questions...)
			e.removeLocked(broadcast.KindGroup, id)
			return func() {
				e.survey.Groups = insertAt(e.survey.Groups, gi, saved)
				e.survey.RenumberGroups()
				owned.restore(e)
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if err := e.api.DeleteGroup(ctx, id); err != nil {
				return nil, err
			}
			return func() []broadcast.Change {
				return []broadcast.Change{broadcast.Delete(broadcast.KindGroup, id)}
			}, nil
		},
	})
}

func (e *Editor) group(id model.ID) (model.Group, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, _ := e.survey.FindGroup(id)
	if g == nil {
		return model.Group{}, NotFoundError{Kind: broadcast.KindGroup, ID: id}
	}
	return g.Clone(), nil
}

func hasPendingChildren(g *model.Group) bool {
	for _, q := range g.Questions {
		if q.Pending {
			return true
		}
		for _, o := range q.Options {
			if o.Pending {
				return true
			}
		}
	}
	return false
}

// owned holds the settings and answers that belong to a set of questions,
// so a failed delete can put them back.
type owned struct {
	settings map[model.ID]model.QuestionSettings
	answers  model.Answers
}

func (e *Editor) ownedLocked(qs ...model.Question) owned {
	o := owned{settings: map[model.ID]model.QuestionSettings{}, answers: model.Answers{}}
	for _, q := range qs {
		if s, ok := e.survey.Settings[q.ID]; ok {
			o.settings[q.ID] = s.Clone()
		}
		if a, ok := e.answers[q.ID]; ok {
			o.answers[q.ID] = model.MultiAnswer(a.OptionIDs...)
		}
	}
	return o
}

func (o owned) restore(e *Editor) {
	for id, s := range o.settings {
		e.survey.Settings[id] = s
	}
	for id, a := range o.answers {
		e.answers[id] = a
	}
}
