package editor

import (
	"context"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"

	"golang.org/x/sync/errgroup"
)

// QuestionDraft is the user-supplied content of a new question.
type QuestionDraft struct {
	Text     string
	HelpText string
	Code     string
	Type     model.QuestionType
}

// AddQuestion appends a question with its type's default options to a group.
// The question and its options are persisted as a unit: if any option fails,
// the created question is deleted again and the placeholder rolled back.
func (e *Editor) AddQuestion(ctx context.Context, groupID model.ID, d QuestionDraft) (model.Question, error) {
	if d.Type == "" {
		d.Type = model.TypeSingleChoice
	}
	if !d.Type.Valid() {
		return model.Question{}, ValidationError{Field: FieldType, Message: "unknown question type " + string(d.Type)}
	}
	var (
		placed  model.Question
		created model.Question
	)
	err := e.run(ctx, mutation{
		op:   "add question",
		kind: broadcast.KindQuestion,
		apply: func() (func(), error) {
			g, _ := e.survey.FindGroup(groupID)
			if g == nil {
				return nil, NotFoundError{Kind: broadcast.KindGroup, ID: groupID}
			}
			if g.Pending {
				return nil, PendingError{Kind: broadcast.KindGroup, ID: groupID}
			}
			placed = e.placeQuestionLocked(g, d)
			return func() { e.removeLocked(broadcast.KindQuestion, placed.ID) }, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			q, err := e.api.CreateQuestion(ctx, groupID, remote.Fields{
				FieldText:     d.Text,
				FieldHelpText: d.HelpText,
				FieldCode:     d.Code,
				FieldType:     string(d.Type),
			})
			if err != nil {
				return nil, err
			}
			opts := make([]model.Option, 0, len(placed.Options))
			for _, o := range placed.Options {
				co, err := e.api.CreateOption(ctx, q.ID, remote.Fields{
					FieldText:          o.Text,
					FieldIsSubquestion: o.IsSubquestion,
				})
				if err != nil {
					if derr := e.api.DeleteQuestion(ctx, q.ID); derr != nil {
						e.log.Warn("editor: undo question create", "id", q.ID, "err", derr)
					}
					return nil, err
				}
				opts = append(opts, co)
			}
			created = q
			return func() []broadcast.Change {
				e.reconcileQuestionLocked(placed.ID, q)
				for i, o := range placed.Options {
					e.reconcileOptionLocked(o.ID, opts[i])
				}
				return []broadcast.Change{broadcast.Reload()}
			}, nil
		},
	})
	if err != nil {
		return model.Question{}, err
	}
	return e.question(created.ID)
}

// MoveQuestion moves a question to a 1-based position within toGroupID,
// which may differ from its current group.
func (e *Editor) MoveQuestion(ctx context.Context, id, toGroupID model.ID, position int) error {
	var (
		moves     []move
		fromGroup model.ID
	)
	return e.run(ctx, mutation{
		op:   "move question",
		kind: broadcast.KindQuestion,
		id:   id,
		apply: func() (func(), error) {
			q, src, qi := e.survey.FindQuestion(id)
			if q == nil {
				return nil, NotFoundError{Kind: broadcast.KindQuestion, ID: id}
			}
			if q.Pending {
				return nil, PendingError{Kind: broadcast.KindQuestion, ID: id}
			}
			dst, _ := e.survey.FindGroup(toGroupID)
			if dst == nil {
				return nil, NotFoundError{Kind: broadcast.KindGroup, ID: toGroupID}
			}
			if dst.Pending {
				return nil, PendingError{Kind: broadcast.KindGroup, ID: toGroupID}
			}
			fromGroup = src.ID
			before := map[model.ID]int{}
			pending := map[model.ID]bool{}
			srcOrder := questionIDs(src)
			dstOrder := questionIDs(dst)
			for _, g := range []*model.Group{src, dst} {
				for _, x := range g.Questions {
					before[x.ID] = x.Position
					pending[x.ID] = x.Pending
				}
			}

			if src.ID == dst.ID {
				to := clampPosition(position, len(src.Questions)) - 1
				src.Questions = moveSlice(src.Questions, qi, to)
				src.RenumberQuestions()
				moves = diffPositions(before, questionIDs(src), pending)
				return func() {
					if g, _ := e.survey.FindGroup(fromGroup); g != nil {
						reorderQuestions(g, srcOrder)
					}
				}, nil
			}

			moved := src.Questions[qi]
			src.Questions = append(src.Questions[:qi], src.Questions[qi+1:]...)
			src.RenumberQuestions()
			dst, _ = e.survey.FindGroup(toGroupID)
			moved.GroupID = dst.ID
			dst.Questions = insertAt(dst.Questions, clampPosition(position, len(dst.Questions)+1)-1, moved)
			dst.RenumberQuestions()
			moves = diffPositions(before, questionIDs(src), pending)
			for i, x := range dst.Questions {
				if x.ID == id {
					// Always written: the group changes even if the position does not.
					moves = append([]move{{id: id, from: before[id], to: i + 1}}, moves...)
				} else if from := before[x.ID]; from != i+1 && !pending[x.ID] {
					moves = append(moves, move{id: x.ID, from: from, to: i + 1})
				}
			}
			return func() { e.unmoveQuestionLocked(id, fromGroup, srcOrder, toGroupID, dstOrder) }, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if fromGroup != toGroupID {
				first := moves[0]
				if _, err := e.api.UpdateQuestion(ctx, id, remote.Fields{FieldGroupID: toGroupID, FieldPosition: first.to}); err != nil {
					return nil, err
				}
				if err := e.persistPositions(ctx, broadcast.KindQuestion, moves[1:]); err != nil {
					if _, cerr := e.api.UpdateQuestion(ctx, id, remote.Fields{FieldGroupID: fromGroup, FieldPosition: first.from}); cerr != nil {
						e.log.Warn("editor: undo question move", "id", id, "err", cerr)
					}
					return nil, err
				}
				return func() []broadcast.Change { return []broadcast.Change{broadcast.Reload()} }, nil
			}
			if err := e.persistPositions(ctx, broadcast.KindQuestion, moves); err != nil {
				return nil, err
			}
			return func() []broadcast.Change { return positionChanges(broadcast.KindQuestion, moves) }, nil
		},
	})
}

func (e *Editor) unmoveQuestionLocked(id, srcID model.ID, srcOrder []model.ID, dstID model.ID, dstOrder []model.ID) {
	q, cur, qi := e.survey.FindQuestion(id)
	src, _ := e.survey.FindGroup(srcID)
	if q != nil && src != nil && cur.ID != srcID {
		moved := *q
		cur.Questions = append(cur.Questions[:qi], cur.Questions[qi+1:]...)
		moved.GroupID = srcID
		src, _ = e.survey.FindGroup(srcID)
		src.Questions = append(src.Questions, moved)
	}
	if src, _ := e.survey.FindGroup(srcID); src != nil {
		reorderQuestions(src, srcOrder)
	}
	if dst, _ := e.survey.FindGroup(dstID); dst != nil {
		reorderQuestions(dst, dstOrder)
	}
}

// DeleteQuestion removes a question with its options and settings. Conditions
// elsewhere that reference it are kept and simply never match again.
func (e *Editor) DeleteQuestion(ctx context.Context, id model.ID) error {
	return e.run(ctx, mutation{
		op:   "delete question",
		kind: broadcast.KindQuestion,
		id:   id,
		apply: func() (func(), error) {
			q, g, qi := e.survey.FindQuestion(id)
			if q == nil {
				return nil, NotFoundError{Kind: broadcast.KindQuestion, ID: id}
			}
			if q.Pending || hasPendingOptions(q) {
				return nil, PendingError{Kind: broadcast.KindQuestion, ID: id}
			}
			saved := q.Clone()
			groupID := g.ID
			own := e.ownedLocked(saved)
			e.removeLocked(broadcast.KindQuestion, id)
			return func() {
				g, _ := e.survey.FindGroup(groupID)
				if g == nil {
					return
				}
				g.Questions = insertAt(g.Questions, qi, saved)
				g.RenumberQuestions()
				own.restore(e)
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if err := e.api.DeleteQuestion(ctx, id); err != nil {
				return nil, err
			}
			return func() []broadcast.Change {
				return []broadcast.Change{broadcast.Delete(broadcast.KindQuestion, id)}
			}, nil
		},
	})
}

// ChangeQuestionType switches a question's type and replaces its options
// with the new type's defaults. The store sees three steps: create the new
// options, update the type, delete the old options. A failure at any step
// undoes the earlier ones and restores the local question.
func (e *Editor) ChangeQuestionType(ctx context.Context, id model.ID, t model.QuestionType) error {
	if !t.Valid() {
		return ValidationError{Field: FieldType, Message: "unknown question type " + string(t)}
	}
	var (
		oldType    model.QuestionType
		oldOptions []model.Option
		newOptions []model.Option
		version    int
		noop       bool
	)
	return e.run(ctx, mutation{
		op:   "change question type",
		kind: broadcast.KindQuestion,
		id:   id,
		apply: func() (func(), error) {
			q, _, _ := e.survey.FindQuestion(id)
			if q == nil {
				return nil, NotFoundError{Kind: broadcast.KindQuestion, ID: id}
			}
			if q.Pending || hasPendingOptions(q) {
				return nil, PendingError{Kind: broadcast.KindQuestion, ID: id}
			}
			if q.Type == t {
				noop = true
				return nil, nil
			}
			saved := q.Clone()
			savedSettings, hadSettings := e.survey.Settings[id]
			savedSettings = savedSettings.Clone()
			savedAnswer, hadAnswer := e.answers[id]
			oldType = q.Type
			oldOptions = saved.Options
			version = q.Version

			q.Type = t
			if !t.Spec().MaxLength {
				q.MaxLength = nil
			}
			q.Options = e.placeDefaultOptionsLocked(id, t)
			newOptions = append([]model.Option(nil), q.Options...)
			if hadSettings {
				e.survey.Settings[id] = savedSettings.ForType(t)
			}
			delete(e.answers, id)
			return func() {
				if q, _, _ := e.survey.FindQuestion(id); q != nil {
					*q = saved.Clone()
				}
				for _, o := range newOptions {
					delete(e.placed, o.ID)
				}
				if hadSettings {
					e.survey.Settings[id] = savedSettings
				}
				if hadAnswer {
					e.answers[id] = savedAnswer
				}
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			if noop {
				return nil, nil
			}
			created, err := e.createOptions(ctx, id, newOptions)
			if err != nil {
				return nil, err
			}
			undoCreated := func() {
				for _, o := range created {
					if derr := e.api.DeleteOption(ctx, o.ID); derr != nil {
						e.log.Warn("editor: undo option create", "id", o.ID, "err", derr)
					}
				}
			}
			updated, err := e.api.UpdateQuestion(ctx, id, remote.Fields{FieldType: string(t), remote.FieldVersion: version})
			if err != nil {
				undoCreated()
				return nil, err
			}
			if err := e.deleteOptions(ctx, oldOptions); err != nil {
				if _, rerr := e.api.UpdateQuestion(ctx, id, remote.Fields{FieldType: string(oldType), remote.FieldVersion: updated.Version}); rerr != nil {
					e.log.Warn("editor: undo type change", "id", id, "err", rerr)
				}
				undoCreated()
				// Some old options may already be gone from the store.
				return nil, ConflictError{Kind: broadcast.KindQuestion, ID: id, Err: err}
			}
			return func() []broadcast.Change {
				for i, o := range newOptions {
					e.reconcileOptionLocked(o.ID, created[i])
				}
				q, _, _ := e.survey.FindQuestion(id)
				if q == nil {
					return nil
				}
				q.Version = updated.Version
				q.RenumberOptions()
				changes := []broadcast.Change{}
				if c, err := broadcast.Replace(broadcast.KindQuestion, id, withoutPlaceholders(q)); err == nil {
					changes = append(changes, c)
				}
				if qs, ok := e.survey.Settings[id]; ok {
					if c, err := broadcast.Replace(broadcast.KindSettings, id, qs.Clone()); err == nil {
						changes = append(changes, c)
					}
				}
				return changes
			}, nil
		},
	})
}

// createOptions persists placeholder options in order. On failure the ones
// already created are deleted again.
func (e *Editor) createOptions(ctx context.Context, questionID model.ID, opts []model.Option) ([]model.Option, error) {
	out := make([]model.Option, 0, len(opts))
	for _, o := range opts {
		co, err := e.api.CreateOption(ctx, questionID, remote.Fields{
			FieldText:          o.Text,
			FieldIsSubquestion: o.IsSubquestion,
		})
		if err != nil {
			for _, done := range out {
				if derr := e.api.DeleteOption(ctx, done.ID); derr != nil {
					e.log.Warn("editor: undo option create", "id", done.ID, "err", derr)
				}
			}
			return nil, err
		}
		out = append(out, co)
	}
	return out, nil
}

func (e *Editor) deleteOptions(ctx context.Context, opts []model.Option) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, o := range opts {
		id := o.ID
		g.Go(func() error {
			err := e.api.DeleteOption(ctx, id)
			if err != nil && remote.CodeOf(err) == remote.CodeNotFound {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (e *Editor) question(id model.ID) (model.Question, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, _, _ := e.survey.FindQuestion(id)
	if q == nil {
		return model.Question{}, NotFoundError{Kind: broadcast.KindQuestion, ID: id}
	}
	return q.Clone(), nil
}

func questionIDs(g *model.Group) []model.ID {
	out := make([]model.ID, 0, len(g.Questions))
	for _, q := range g.Questions {
		out = append(out, q.ID)
	}
	return out
}

func hasPendingOptions(q *model.Question) bool {
	for _, o := range q.Options {
		if o.Pending {
			return true
		}
	}
	return false
}
