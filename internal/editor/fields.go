package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// Field names shared by the editor, the broadcast wire format and the
// persistence API.
const (
	FieldTitle         = "title"
	FieldText          = "text"
	FieldHelpText      = "helpText"
	FieldCode          = "code"
	FieldMaxLength     = "maxLength"
	FieldPoints        = "points"
	FieldIsSubquestion = "isSubquestion"
	FieldImage         = "image"
	FieldIsCorrect     = "isCorrect"
	FieldPosition      = "position"
	FieldGroupID       = "groupId"
	FieldType          = "type"
)

// editable lists the fields open to live edits, per entity kind.
var editable = map[broadcast.Kind]map[string]bool{
	broadcast.KindSurvey:   {FieldTitle: true},
	broadcast.KindGroup:    {FieldTitle: true},
	broadcast.KindQuestion: {FieldText: true, FieldHelpText: true, FieldCode: true, FieldMaxLength: true, FieldPoints: true},
	broadcast.KindOption:   {FieldText: true, FieldIsSubquestion: true, FieldImage: true, FieldIsCorrect: true},
}

func IsEditable(kind broadcast.Kind, field string) bool {
	return editable[kind][field]
}

// SetField applies a live edit to the local model only. The first edit of a
// field records the last persisted value so a failed commit can restore it.
func (e *Editor) SetField(kind broadcast.Kind, id model.ID, field string, value any) error {
	if !IsEditable(kind, field) {
		return ValidationError{Field: field, Message: fmt.Sprintf("not editable on %s", kind)}
	}
	e.mu.Lock()
	base, ok := getField(&e.survey, kind, id, field)
	if !ok {
		e.mu.Unlock()
		return NotFoundError{Kind: kind, ID: id}
	}
	if err := setField(&e.survey, kind, id, field, value); err != nil {
		e.mu.Unlock()
		return err
	}
	k := draftKey{kind: kind, id: id, field: field}
	if _, exists := e.drafts[k]; !exists {
		e.drafts[k] = base
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// CommitField persists the current value of a live-edited field. Without a
// pending live edit it does nothing.
func (e *Editor) CommitField(ctx context.Context, kind broadcast.Kind, id model.ID, field string) error {
	k := draftKey{kind: kind, id: id, field: field}
	var (
		value   any
		base    any
		version int
	)
	e.mu.Lock()
	b, ok := e.drafts[k]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	if pending, found := isPending(&e.survey, kind, id); !found {
		delete(e.drafts, k)
		e.mu.Unlock()
		return NotFoundError{Kind: kind, ID: id}
	} else if pending {
		e.mu.Unlock()
		return PendingError{Kind: kind, ID: id}
	}
	if err := validateField(&e.survey, kind, id, field); err != nil {
		delete(e.drafts, k)
		e.restoreFieldLocked(k, b)
		e.mu.Unlock()
		e.notify()
		return err
	}
	value, _ = getField(&e.survey, kind, id, field)
	base = b
	version = versionOf(&e.survey, kind, id)
	delete(e.drafts, k)
	e.mu.Unlock()

	if reflect.DeepEqual(value, base) {
		return nil
	}

	newVersion, err := e.updateField(ctx, kind, id, field, value, version)
	if err != nil {
		err = classify("save "+field, kind, id, err)
		e.mu.Lock()
		e.restoreFieldLocked(k, base)
		e.mu.Unlock()
		e.notify()
		e.log.Warn("editor: field commit rolled back", "kind", kind, "id", id, "field", field, "err", err)
		return err
	}

	e.mu.Lock()
	setVersion(&e.survey, kind, id, newVersion)
	e.lastSaved = e.now()
	e.mu.Unlock()
	e.notify()

	c, err := broadcast.SetField(kind, id, field, value, newVersion)
	if err != nil {
		e.log.Warn("editor: encode change", "err", err)
		return nil
	}
	e.publish(ctx, []broadcast.Change{c})
	return nil
}

// restoreFieldLocked puts base back unless newer typing started a fresh
// draft, in which case that draft inherits base as its baseline.
func (e *Editor) restoreFieldLocked(k draftKey, base any) {
	if _, typing := e.drafts[k]; typing {
		e.drafts[k] = base
		return
	}
	delete(e.drafts, k)
	if err := setField(&e.survey, k.kind, k.id, k.field, base); err != nil {
		e.log.Error("editor: restore field", "kind", k.kind, "id", k.id, "field", k.field, "err", err)
	}
}

// CommitAll commits every outstanding live edit and returns the first error.
func (e *Editor) CommitAll(ctx context.Context) error {
	e.mu.RLock()
	keys := make([]draftKey, 0, len(e.drafts))
	for k := range e.drafts {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	var first error
	for _, k := range keys {
		if err := e.CommitField(ctx, k.kind, k.id, k.field); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Edit is SetField followed by CommitField.
func (e *Editor) Edit(ctx context.Context, kind broadcast.Kind, id model.ID, field string, value any) error {
	if err := e.SetField(kind, id, field, value); err != nil {
		return err
	}
	return e.CommitField(ctx, kind, id, field)
}

func (e *Editor) updateField(ctx context.Context, kind broadcast.Kind, id model.ID, field string, value any, version int) (int, error) {
	f := remote.Fields{field: value, remote.FieldVersion: version}
	switch kind {
	case broadcast.KindGroup:
		g, err := e.api.UpdateGroup(ctx, id, f)
		return g.Version, err
	case broadcast.KindQuestion:
		q, err := e.api.UpdateQuestion(ctx, id, f)
		return q.Version, err
	case broadcast.KindOption:
		o, err := e.api.UpdateOption(ctx, id, f)
		return o.Version, err
	case broadcast.KindSurvey:
		s, err := e.api.UpdateSurvey(ctx, id, f)
		return s.Version, err
	}
	return 0, ValidationError{Field: field, Message: fmt.Sprintf("unknown kind %q", kind)}
}

func validateField(s *model.Survey, kind broadcast.Kind, id model.ID, field string) error {
	switch kind {
	case broadcast.KindQuestion:
		q, _, _ := s.FindQuestion(id)
		if q == nil {
			return NotFoundError{Kind: kind, ID: id}
		}
		switch field {
		case FieldMaxLength:
			if q.MaxLength == nil {
				return nil
			}
			if !q.Type.Spec().MaxLength {
				return ValidationError{Field: field, Message: fmt.Sprintf("not supported by %s questions", q.Type)}
			}
			if *q.MaxLength < 1 {
				return ValidationError{Field: field, Message: "must be at least 1"}
			}
		case FieldPoints:
			if q.Points != nil && *q.Points < 0 {
				return ValidationError{Field: field, Message: "must not be negative"}
			}
		}
	case broadcast.KindGroup:
		g, _ := s.FindGroup(id)
		if g == nil {
			return NotFoundError{Kind: kind, ID: id}
		}
	}
	return nil
}

func isPending(s *model.Survey, kind broadcast.Kind, id model.ID) (pending bool, found bool) {
	switch kind {
	case broadcast.KindSurvey:
		return false, s.ID == id
	case broadcast.KindGroup:
		if g, _ := s.FindGroup(id); g != nil {
			return g.Pending, true
		}
	case broadcast.KindQuestion, broadcast.KindSettings:
		if q, _, _ := s.FindQuestion(id); q != nil {
			return q.Pending, true
		}
	case broadcast.KindOption:
		if o, _, _ := s.FindOption(id); o != nil {
			return o.Pending, true
		}
	}
	return false, false
}

func versionOf(s *model.Survey, kind broadcast.Kind, id model.ID) int {
	switch kind {
	case broadcast.KindSurvey:
		return s.Version
	case broadcast.KindGroup:
		if g, _ := s.FindGroup(id); g != nil {
			return g.Version
		}
	case broadcast.KindQuestion:
		if q, _, _ := s.FindQuestion(id); q != nil {
			return q.Version
		}
	case broadcast.KindOption:
		if o, _, _ := s.FindOption(id); o != nil {
			return o.Version
		}
	}
	return 0
}

func setVersion(s *model.Survey, kind broadcast.Kind, id model.ID, v int) {
	if v <= 0 {
		return
	}
	switch kind {
	case broadcast.KindSurvey:
		s.Version = v
	case broadcast.KindGroup:
		if g, _ := s.FindGroup(id); g != nil {
			g.Version = v
		}
	case broadcast.KindQuestion:
		if q, _, _ := s.FindQuestion(id); q != nil {
			q.Version = v
		}
	case broadcast.KindOption:
		if o, _, _ := s.FindOption(id); o != nil {
			o.Version = v
		}
	}
}

// getField reads one field as its Go value. Pointer fields are copied.
func getField(s *model.Survey, kind broadcast.Kind, id model.ID, field string) (any, bool) {
	switch kind {
	case broadcast.KindSurvey:
		if s.ID != id {
			return nil, false
		}
		if field == FieldTitle {
			return s.Title, true
		}
	case broadcast.KindGroup:
		g, _ := s.FindGroup(id)
		if g == nil {
			return nil, false
		}
		switch field {
		case FieldTitle:
			return g.Title, true
		case FieldPosition:
			return g.Position, true
		}
	case broadcast.KindQuestion:
		q, _, _ := s.FindQuestion(id)
		if q == nil {
			return nil, false
		}
		switch field {
		case FieldText:
			return q.Text, true
		case FieldHelpText:
			return q.HelpText, true
		case FieldCode:
			return q.Code, true
		case FieldMaxLength:
			return copyPtr(q.MaxLength), true
		case FieldPoints:
			return copyPtr(q.Points), true
		case FieldPosition:
			return q.Position, true
		case FieldGroupID:
			return q.GroupID, true
		case FieldType:
			return q.Type, true
		}
	case broadcast.KindOption:
		o, _, _ := s.FindOption(id)
		if o == nil {
			return nil, false
		}
		switch field {
		case FieldText:
			return o.Text, true
		case FieldIsSubquestion:
			return o.IsSubquestion, true
		case FieldImage:
			return copyPtr(o.Image), true
		case FieldIsCorrect:
			return copyPtr(o.IsCorrect), true
		case FieldPosition:
			return o.Position, true
		}
	}
	return nil, false
}

// setField writes one field. value may be the Go value or raw JSON.
func setField(s *model.Survey, kind broadcast.Kind, id model.ID, field string, value any) error {
	bad := func(err error) error {
		return ValidationError{Field: field, Message: err.Error()}
	}
	switch kind {
	case broadcast.KindSurvey:
		if s.ID != id {
			return NotFoundError{Kind: kind, ID: id}
		}
		if field == FieldTitle {
			v, err := decode[string](value)
			if err != nil {
				return bad(err)
			}
			s.Title = v
			return nil
		}
	case broadcast.KindGroup:
		g, _ := s.FindGroup(id)
		if g == nil {
			return NotFoundError{Kind: kind, ID: id}
		}
		switch field {
		case FieldTitle:
			v, err := decode[string](value)
			if err != nil {
				return bad(err)
			}
			g.Title = v
			return nil
		case FieldPosition:
			v, err := decode[int](value)
			if err != nil {
				return bad(err)
			}
			g.Position = v
			return nil
		}
	case broadcast.KindQuestion:
		q, _, _ := s.FindQuestion(id)
		if q == nil {
			return NotFoundError{Kind: kind, ID: id}
		}
		var err error
		switch field {
		case FieldText:
			q.Text, err = decode[string](value)
		case FieldHelpText:
			q.HelpText, err = decode[string](value)
		case FieldCode:
			q.Code, err = decode[string](value)
		case FieldMaxLength:
			q.MaxLength, err = decode[*int](value)
		case FieldPoints:
			q.Points, err = decode[*int](value)
		case FieldPosition:
			q.Position, err = decode[int](value)
		case FieldType:
			var t model.QuestionType
			if t, err = decode[model.QuestionType](value); err == nil && !t.Valid() {
				err = fmt.Errorf("unknown question type %q", t)
			}
			if err == nil {
				q.Type = t
			}
		default:
			return ValidationError{Field: field, Message: "unknown question field"}
		}
		if err != nil {
			return bad(err)
		}
		return nil
	case broadcast.KindOption:
		o, _, _ := s.FindOption(id)
		if o == nil {
			return NotFoundError{Kind: kind, ID: id}
		}
		var err error
		switch field {
		case FieldText:
			o.Text, err = decode[string](value)
		case FieldIsSubquestion:
			o.IsSubquestion, err = decode[bool](value)
		case FieldImage:
			o.Image, err = decode[*string](value)
		case FieldIsCorrect:
			o.IsCorrect, err = decode[*bool](value)
		case FieldPosition:
			o.Position, err = decode[int](value)
		default:
			return ValidationError{Field: field, Message: "unknown option field"}
		}
		if err != nil {
			return bad(err)
		}
		return nil
	}
	return ValidationError{Field: field, Message: fmt.Sprintf("unknown %s field", kind)}
}

// decode converts v to T, going through JSON when it is not already a T.
func decode[T any](v any) (T, error) {
	var out T
	switch x := v.(type) {
	case T:
		return x, nil
	case json.RawMessage:
		err := json.Unmarshal(x, &out)
		return out, err
	case nil:
		err := json.Unmarshal([]byte("null"), &out)
		return out, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
