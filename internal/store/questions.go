package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

var questionContentFields = []string{"text", "helpText", "code", "type", "maxLength", "points"}

func decodeQuestion(f remote.Fields, q *model.Question) error {
	for key, dst := range map[string]any{
		"text":      &q.Text,
		"helpText":  &q.HelpText,
		"code":      &q.Code,
		"maxLength": &q.MaxLength,
		"points":    &q.Points,
	} {
		if _, err := f.Decode(key, dst); err != nil {
			return err
		}
	}
	var t string
	ok, err := f.Decode("type", &t)
	if err != nil || !ok {
		return err
	}
	qt, err := model.ParseQuestionType(t)
	if err != nil {
		return remote.NewInvalidError(err.Error())
	}
	q.Type = qt
	return nil
}

func (s *Store) checkQuestion(q model.Question) error {
	if err := s.check(questionRules(q)); err != nil {
		return err
	}
	if q.MaxLength != nil && !q.Type.Spec().MaxLength {
		return remote.NewInvalidError(fmt.Sprintf("maxLength: not supported by %s questions", q.Type))
	}
	return nil
}

func writeSettings(ctx context.Context, tx *sql.Tx, questionID model.ID, qs model.QuestionSettings) error {
	raw, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO settings(question_id, json) VALUES(?, ?)`, questionID, string(raw))
	return err
}

func readSettings(ctx context.Context, q querier, questionID model.ID) (model.QuestionSettings, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT json FROM settings WHERE question_id = ?`, questionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.QuestionSettings{}, err
	}
	var qs model.QuestionSettings
	if err := json.Unmarshal([]byte(raw), &qs); err != nil {
		return model.QuestionSettings{}, err
	}
	return qs, nil
}

// CreateQuestion appends a question to the group. The type defaults to
// single choice and the code to Q<id>. Options are created separately.
func (s *Store) CreateQuestion(ctx context.Context, groupID model.ID, f remote.Fields) (model.Question, error) {
	var out model.Question
	err := s.write(ctx, "create question", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		n, err := countChildren(ctx, tx, "questions", "group_id", groupID)
		if err != nil {
			return err
		}
		q := model.Question{GroupID: groupID, Position: n + 1, Version: 1, Type: model.TypeSingleChoice}
		if err := decodeQuestion(f, &q); err != nil {
			return err
		}
		if q.ID, err = s.nextID(ctx, tx, "question"); err != nil {
			return err
		}
		if strings.TrimSpace(q.Code) == "" {
			q.Code = "Q" + q.ID.String()
		}
		if err := s.checkQuestion(q); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions(id, group_id, code, text, help_text, type, position, max_length, points, version)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.GroupID, q.Code, q.Text, q.HelpText, string(q.Type), q.Position, intArg(q.MaxLength), intArg(q.Points), q.Version); err != nil {
			return err
		}
		if err := writeSettings(ctx, tx, q.ID, model.DefaultSettings()); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, g.SurveyID); err != nil {
			return err
		}
		if out, _, err = s.loadQuestion(ctx, tx, q.ID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "question.created", g.SurveyID, "question", q.ID, out)
	})
	return out, err
}

// UpdateQuestion patches content fields (version checked), the position and
// the owning group (both version free). A type change drops settings and
// limits the new type does not support.
func (s *Store) UpdateQuestion(ctx context.Context, id model.ID, f remote.Fields) (model.Question, error) {
	var out model.Question
	err := s.write(ctx, "update question", func(tx *sql.Tx) error {
		cur, surveyID, err := s.loadQuestion(ctx, tx, id)
		if err != nil {
			return err
		}
		content, err := checkVersion(f, cur.Version, questionContentFields...)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := decodeQuestion(f, &next); err != nil {
			return err
		}
		if _, err := f.Decode("position", &next.Position); err != nil {
			return err
		}
		var target model.ID
		if _, err := f.Decode("groupId", &target); err != nil {
			return err
		}
		if target != 0 && target != cur.GroupID {
			dst, err := s.loadGroup(ctx, tx, target)
			if err != nil {
				return err
			}
			if dst.SurveyID != surveyID {
				return remote.NewInvalidError(fmt.Sprintf("groupId: group %d belongs to another survey", target))
			}
			next.GroupID = target
			if !f.Has("position") {
				n, err := countChildren(ctx, tx, "questions", "group_id", target)
				if err != nil {
					return err
				}
				next.Position = n + 1
			}
		}
		typeChanged := next.Type != cur.Type
		if typeChanged && !next.Type.Spec().MaxLength {
			next.MaxLength = nil
		}
		if err := s.checkQuestion(next); err != nil {
			return err
		}
		if content {
			next.Version++
		}
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET group_id = ?, code = ?, text = ?, help_text = ?, type = ?, position = ?, max_length = ?, points = ?, version = ?
			WHERE id = ?`,
			next.GroupID, next.Code, next.Text, next.HelpText, string(next.Type), next.Position, intArg(next.MaxLength), intArg(next.Points), next.Version, id); err != nil {
			return err
		}
		if next.GroupID != cur.GroupID {
			if err := renumber(ctx, tx, "questions", "group_id", cur.GroupID); err != nil {
				return err
			}
		}
		if typeChanged {
			qs, err := readSettings(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := writeSettings(ctx, tx, id, qs.ForType(next.Type)); err != nil {
				return err
			}
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		if out, _, err = s.loadQuestion(ctx, tx, id); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "question.updated", surveyID, "question", id, f)
	})
	return out, err
}

func (s *Store) DeleteQuestion(ctx context.Context, id model.ID) error {
	return s.write(ctx, "delete question", func(tx *sql.Tx) error {
		q, surveyID, err := s.loadQuestion(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id); err != nil {
			return err
		}
		if err := renumber(ctx, tx, "questions", "group_id", q.GroupID); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "question.deleted", surveyID, "question", id, map[string]any{"text": q.Text})
	})
}

// UpdateSettings replaces the question's settings after checking them
// against its type.
func (s *Store) UpdateSettings(ctx context.Context, questionID model.ID, qs model.QuestionSettings) (model.QuestionSettings, error) {
	var out model.QuestionSettings
	err := s.write(ctx, "update settings", func(tx *sql.Tx) error {
		q, surveyID, err := s.loadQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		if err := qs.Validate(q.Type); err != nil {
			return remote.NewInvalidError(err.Error())
		}
		if err := writeSettings(ctx, tx, questionID, qs); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		if out, err = readSettings(ctx, tx, questionID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "settings.updated", surveyID, "settings", questionID, out)
	})
	return out, err
}
