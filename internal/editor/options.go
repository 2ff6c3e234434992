package editor

import (
	"context"
	"strconv"
	"strings"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// AddOption appends an option to a question.
func (e *Editor) AddOption(ctx context.Context, questionID model.ID, text string, isSubquestion bool) (model.Option, error) {
	text = strings.TrimSpace(text)
	var (
		placed  model.Option
		created model.Option
	)
	err := e.run(ctx, mutation{
		op:   "add option",
		kind: broadcast.KindOption,
		apply: func() (func(), error) {
			q, _, _ := e.survey.FindQuestion(questionID)
			if q == nil {
				return nil, NotFoundError{Kind: broadcast.KindQuestion, ID: questionID}
			}
			if q.Pending {
				return nil, PendingError{Kind: broadcast.KindQuestion, ID: questionID}
			}
			if !q.Type.Spec().Choice {
				return nil, ValidationError{Field: "options", Message: "not supported by " + string(q.Type) + " questions"}
			}
			if text == "" {
				text = defaultOptionText(len(q.Options) + 1)
			}
			placed = e.placeOptionLocked(q, text, isSubquestion)
			return func() { e.removeLocked(broadcast.KindOption, placed.ID) }, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			o, err := e.api.CreateOption(ctx, questionID, remote.Fields{
				FieldText:          text,
				FieldIsSubquestion: isSubquestion,
			})
			if err != nil {
				return nil, err
			}
			created = o
			return func() []broadcast.Change {
				e.reconcileOptionLocked(placed.ID, o)
				return e.questionReplaceLocked(questionID)
			}, nil
		},
	})
	if err != nil {
		return model.Option{}, err
	}
	return e.option(created.ID)
}

// MoveOption moves an option to a 1-based position within its question and
// persists every sibling whose position changed. If any write fails the
// whole order is restored.
func (e *Editor) MoveOption(ctx context.Context, id model.ID, position int) error {
	var moves []move
	return e.run(ctx, mutation{
		op:   "move option",
		kind: broadcast.KindOption,
		id:   id,
		apply: func() (func(), error) {
			o, q, oi := e.survey.FindOption(id)
			if o == nil {
				return nil, NotFoundError{Kind: broadcast.KindOption, ID: id}
			}
			if o.Pending {
				return nil, PendingError{Kind: broadcast.KindOption, ID: id}
			}
			questionID := q.ID
			before := map[model.ID]int{}
			pending := map[model.ID]bool{}
			order := make([]model.ID, 0, len(q.Options))
			for _, x := range q.Options {
				before[x.ID] = x.Position
				pending[x.ID] = x.Pending
				order = append(order, x.ID)
			}
			to := clampPosition(position, len(q.Options)) - 1
			q.Options = moveSlice(q.Options, oi, to)
			q.RenumberOptions()
			after := make([]model.ID, 0, len(q.Options))
			for _, x := range q.Options {
				after = append(after, x.ID)
			}
			moves = diffPositions(before, after, pending)
			return func() {
				if q, _, _ := e.survey.FindQuestion(questionID); q != nil {
					reorderOptions(q, order)
				}
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if err := e.persistPositions(ctx, broadcast.KindOption, moves); err != nil {
				return nil, err
			}
			return func() []broadcast.Change { return positionChanges(broadcast.KindOption, moves) }, nil
		},
	})
}

// DeleteOption removes an option. Answers selecting it lose the selection;
// conditions requiring it stay and never match again.
func (e *Editor) DeleteOption(ctx context.Context, id model.ID) error {
	return e.run(ctx, mutation{
		op:   "delete option",
		kind: broadcast.KindOption,
		id:   id,
		apply: func() (func(), error) {
			o, q, oi := e.survey.FindOption(id)
			if o == nil {
				return nil, NotFoundError{Kind: broadcast.KindOption, ID: id}
			}
			if o.Pending {
				return nil, PendingError{Kind: broadcast.KindOption, ID: id}
			}
			saved := o.Clone()
			questionID := q.ID
			own := e.ownedLocked(*q)
			delete(own.settings, questionID)
			e.removeLocked(broadcast.KindOption, id)
			return func() {
				q, _, _ := e.survey.FindQuestion(questionID)
				if q == nil {
					return
				}
				q.Options = insertAt(q.Options, oi, saved)
				q.RenumberOptions()
				own.restore(e)
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if err := e.api.DeleteOption(ctx, id); err != nil {
				return nil, err
			}
			return func() []broadcast.Change {
				return []broadcast.Change{broadcast.Delete(broadcast.KindOption, id)}
			}, nil
		},
	})
}

// RenameOption sets and commits an option's text.
func (e *Editor) RenameOption(ctx context.Context, id model.ID, text string) error {
	return e.Edit(ctx, broadcast.KindOption, id, FieldText, text)
}

func (e *Editor) questionReplaceLocked(id model.ID) []broadcast.Change {
	q, _, _ := e.survey.FindQuestion(id)
	if q == nil {
		return nil
	}
	c, err := broadcast.Replace(broadcast.KindQuestion, id, withoutPlaceholders(q))
	if err != nil {
		e.log.Warn("editor: encode change", "err", err)
		return nil
	}
	return []broadcast.Change{c}
}

// withoutPlaceholders copies q without options that are still being
// created. Other tabs learn about those when their create commits.
func withoutPlaceholders(q *model.Question) model.Question {
	c := q.Clone()
	kept := make([]model.Option, 0, len(c.Options))
	for _, o := range c.Options {
		if !o.Pending && !o.ID.Temporary() {
			kept = append(kept, o)
		}
	}
	c.Options = kept
	return c
}

func (e *Editor) option(id model.ID) (model.Option, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, _, _ := e.survey.FindOption(id)
	if o == nil {
		return model.Option{}, NotFoundError{Kind: broadcast.KindOption, ID: id}
	}
	return o.Clone(), nil
}

func defaultOptionText(n int) string {
	return "Option " + strconv.Itoa(n)
}
