package editor

import (
	"context"
	"fmt"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/visibility"
)

// Settings returns a copy of a question's settings, or the defaults.
func (e *Editor) Settings(questionID model.ID) model.QuestionSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if qs, ok := e.survey.Settings[questionID]; ok {
		return qs.Clone()
	}
	return model.DefaultSettings()
}

// UpdateSettings replaces a question's settings after validating them
// against the question type.
func (e *Editor) UpdateSettings(ctx context.Context, questionID model.ID, next model.QuestionSettings) error {
	return e.updateSettings(ctx, questionID, func(model.QuestionSettings, *model.Question) (model.QuestionSettings, error) {
		return next.Clone(), nil
	})
}

// SetRequired changes only the required mode.
func (e *Editor) SetRequired(ctx context.Context, questionID model.ID, mode model.RequiredMode) error {
	return e.updateSettings(ctx, questionID, func(cur model.QuestionSettings, _ *model.Question) (model.QuestionSettings, error) {
		cur.Required = mode
		return cur, nil
	})
}

// AddCondition appends a visibility condition to questionID. The source
// question must come earlier in display order and the required option must
// belong to it.
func (e *Editor) AddCondition(ctx context.Context, questionID model.ID, c model.Condition) error {
	return e.updateSettings(ctx, questionID, func(cur model.QuestionSettings, q *model.Question) (model.QuestionSettings, error) {
		if err := e.checkConditionLocked(q, c); err != nil {
			return cur, err
		}
		if c.TargetQuestionID != nil {
			v := *c.TargetQuestionID
			c.TargetQuestionID = &v
		}
		cur.Conditions = append(cur.Conditions, c)
		return cur, nil
	})
}

// RemoveCondition drops the condition at index (0-based).
func (e *Editor) RemoveCondition(ctx context.Context, questionID model.ID, index int) error {
	return e.updateSettings(ctx, questionID, func(cur model.QuestionSettings, _ *model.Question) (model.QuestionSettings, error) {
		if index < 0 || index >= len(cur.Conditions) {
			return cur, ValidationError{Field: "conditions", Message: fmt.Sprintf("no condition at index %d", index)}
		}
		cur.Conditions = append(cur.Conditions[:index], cur.Conditions[index+1:]...)
		return cur, nil
	})
}

func (e *Editor) checkConditionLocked(q *model.Question, c model.Condition) error {
	switch c.Kind {
	case model.ConditionQuestion:
	case model.ConditionParticipant:
		if c.TargetQuestionID == nil {
			return ValidationError{Field: "conditions", Message: "participant condition needs a target question"}
		}
		if *c.TargetQuestionID != q.ID {
			return ValidationError{Field: "conditions", Message: "participant condition must target the question it gates"}
		}
	default:
		return ValidationError{Field: "conditions", Message: fmt.Sprintf("unknown kind %q", c.Kind)}
	}
	src, _, _ := e.survey.FindQuestion(c.SourceQuestionID)
	if src == nil {
		return NotFoundError{Kind: broadcast.KindQuestion, ID: c.SourceQuestionID}
	}
	if src.Pending {
		return PendingError{Kind: broadcast.KindQuestion, ID: src.ID}
	}
	if !src.Type.Spec().Choice {
		return ValidationError{Field: "conditions", Message: fmt.Sprintf("question %d has no options to depend on", src.ID)}
	}
	if !e.survey.Precedes(src.ID, q.ID) {
		return ValidationError{Field: "conditions", Message: fmt.Sprintf("question %d must come before question %d", src.ID, q.ID)}
	}
	o, owner, _ := e.survey.FindOption(c.RequiredOptionID)
	if o == nil || owner.ID != src.ID {
		return ValidationError{Field: "conditions", Message: fmt.Sprintf("option %d does not belong to question %d", c.RequiredOptionID, src.ID)}
	}
	if o.Pending {
		return PendingError{Kind: broadcast.KindOption, ID: o.ID}
	}
	return nil
}

func (e *Editor) updateSettings(ctx context.Context, questionID model.ID, change func(model.QuestionSettings, *model.Question) (model.QuestionSettings, error)) error {
	var next model.QuestionSettings
	return e.run(ctx, mutation{
		op:   "update settings",
		kind: broadcast.KindSettings,
		id:   questionID,
		apply: func() (func(), error) {
			q, _, _ := e.survey.FindQuestion(questionID)
			if q == nil {
				return nil, NotFoundError{Kind: broadcast.KindQuestion, ID: questionID}
			}
			if q.Pending {
				return nil, PendingError{Kind: broadcast.KindQuestion, ID: questionID}
			}
			prev, had := e.survey.Settings[questionID]
			cur := model.DefaultSettings()
			if had {
				cur = prev.Clone()
			}
			var err error
			next, err = change(cur, q)
			if err != nil {
				return nil, err
			}
			if err := next.Validate(q.Type); err != nil {
				return nil, ValidationError{Field: "settings", Message: err.Error()}
			}
			e.survey.Settings[questionID] = next.Clone()
			return func() {
				if had {
					e.survey.Settings[questionID] = prev
				} else {
					delete(e.survey.Settings, questionID)
				}
			}, nil
		},
		persist: func(ctx context.Context) (func() []broadcast.Change, error) {
			saved, err := e.api.UpdateSettings(ctx, questionID, next)
			if err != nil {
				return nil, err
			}
			return func() []broadcast.Change {
				e.survey.Settings[questionID] = saved.Clone()
				c, err := broadcast.Replace(broadcast.KindSettings, questionID, saved)
				if err != nil {
					return nil
				}
				return []broadcast.Change{c}
			}, nil
		},
	})
}

// SetAnswer records a preview answer. Answers are local and never persisted.
func (e *Editor) SetAnswer(questionID model.ID, a model.Answer) error {
	e.mu.Lock()
	q, _, _ := e.survey.FindQuestion(questionID)
	if q == nil {
		e.mu.Unlock()
		return NotFoundError{Kind: broadcast.KindQuestion, ID: questionID}
	}
	spec := q.Type.Spec()
	if !spec.Choice {
		e.mu.Unlock()
		return ValidationError{Field: "answer", Message: string(q.Type) + " questions have no options to select"}
	}
	if !spec.Multi && len(a.OptionIDs) > 1 {
		e.mu.Unlock()
		return ValidationError{Field: "answer", Message: "only one option may be selected"}
	}
	for _, oid := range a.OptionIDs {
		if o, owner, _ := e.survey.FindOption(oid); o == nil || owner.ID != questionID {
			e.mu.Unlock()
			return ValidationError{Field: "answer", Message: fmt.Sprintf("option %d does not belong to question %d", oid, questionID)}
		}
	}
	if len(a.OptionIDs) == 0 {
		delete(e.answers, questionID)
	} else {
		e.answers[questionID] = model.MultiAnswer(a.OptionIDs...)
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Editor) ClearAnswers() {
	e.mu.Lock()
	e.answers = model.Answers{}
	e.mu.Unlock()
	e.notify()
}

// IsVisible evaluates a question's conditions against the preview answers.
func (e *Editor) IsVisible(questionID model.ID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return visibility.IsVisible(questionID, e.answers, e.survey.Settings)
}

// Visible returns the questions to render in the given mode.
func (e *Editor) Visible(mode visibility.Mode) []model.Question {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := visibility.Visible(mode, &e.survey, e.answers)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
