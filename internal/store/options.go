package store

import (
	"context"
	"database/sql"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

var optionContentFields = []string{"text", "isSubquestion", "image", "isCorrect"}

func decodeOption(f remote.Fields, o *model.Option) error {
	for key, dst := range map[string]any{
		"text":          &o.Text,
		"isSubquestion": &o.IsSubquestion,
		"image":         &o.Image,
		"isCorrect":     &o.IsCorrect,
	} {
		if _, err := f.Decode(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// CreateOption appends an option to the question.
func (s *Store) CreateOption(ctx context.Context, questionID model.ID, f remote.Fields) (model.Option, error) {
	var out model.Option
	err := s.write(ctx, "create option", func(tx *sql.Tx) error {
		_, surveyID, err := s.loadQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		n, err := countChildren(ctx, tx, "options", "question_id", questionID)
		if err != nil {
			return err
		}
		o := model.Option{QuestionID: questionID, Position: n + 1, Version: 1}
		if err := decodeOption(f, &o); err != nil {
			return err
		}
		if err := s.check(optionRules(o)); err != nil {
			return err
		}
		if o.ID, err = s.nextID(ctx, tx, "option"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO options(id, question_id, text, position, is_subquestion, image, is_correct, version)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.QuestionID, o.Text, o.Position, boolToInt(o.IsSubquestion), strArg(o.Image), boolArg(o.IsCorrect), o.Version); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		if out, _, err = s.loadOption(ctx, tx, o.ID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "option.created", surveyID, "option", o.ID, out)
	})
	return out, err
}

func (s *Store) UpdateOption(ctx context.Context, id model.ID, f remote.Fields) (model.Option, error) {
	var out model.Option
	err := s.write(ctx, "update option", func(tx *sql.Tx) error {
		o, surveyID, err := s.loadOption(ctx, tx, id)
		if err != nil {
			return err
		}
		content, err := checkVersion(f, o.Version, optionContentFields...)
		if err != nil {
			return err
		}
		if err := decodeOption(f, &o); err != nil {
			return err
		}
		if _, err := f.Decode("position", &o.Position); err != nil {
			return err
		}
		if err := s.check(optionRules(o)); err != nil {
			return err
		}
		if content {
			o.Version++
		}
		if _, err := tx.ExecContext(ctx, `UPDATE options SET text = ?, position = ?, is_subquestion = ?, image = ?, is_correct = ?, version = ? WHERE id = ?`,
			o.Text, o.Position, boolToInt(o.IsSubquestion), strArg(o.Image), boolArg(o.IsCorrect), o.Version, id); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		if out, _, err = s.loadOption(ctx, tx, id); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "option.updated", surveyID, "option", id, f)
	})
	return out, err
}

func (s *Store) DeleteOption(ctx context.Context, id model.ID) error {
	return s.write(ctx, "delete option", func(tx *sql.Tx) error {
		o, surveyID, err := s.loadOption(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE id = ?`, id); err != nil {
			return err
		}
		if err := renumber(ctx, tx, "options", "question_id", o.QuestionID); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "option.deleted", surveyID, "option", id, map[string]any{"text": o.Text})
	})
}
