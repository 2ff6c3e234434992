package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

func (s *Store) GetSurvey(ctx context.Context, id model.ID) (model.Survey, error) {
	out, err := s.loadSurvey(ctx, s.db, id)
	if err != nil {
		if _, ok := remote.AsError(err); ok {
			return model.Survey{}, err
		}
		return model.Survey{}, unavailable("get survey", err)
	}
	return out, nil
}

// ListSurveys returns every survey without its groups, newest first.
func (s *Store) ListSurveys(ctx context.Context) ([]model.Survey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+surveyCols+` FROM surveys ORDER BY updated_at_unixms DESC, id DESC`)
	if err != nil {
		return nil, unavailable("list surveys", err)
	}
	out := []model.Survey{}
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			rows.Close()
			return nil, unavailable("list surveys", err)
		}
		out = append(out, sv)
	}
	if err := closeRows(rows); err != nil {
		return nil, unavailable("list surveys", err)
	}
	return out, nil
}

func (s *Store) CreateSurvey(ctx context.Context, f remote.Fields) (model.Survey, error) {
	var out model.Survey
	err := s.write(ctx, "create survey", func(tx *sql.Tx) error {
		var title string
		if _, err := f.Decode("title", &title); err != nil {
			return err
		}
		title = strings.TrimSpace(title)
		if err := s.check(surveyPayload{Title: title}); err != nil {
			return err
		}
		id, err := s.nextID(ctx, tx, "survey")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO surveys(id, title, version, updated_at_unixms) VALUES(?, ?, 1, ?)`,
			id, title, s.now().UnixMilli()); err != nil {
			return err
		}
		if out, err = s.loadSurvey(ctx, tx, id); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "survey.created", id, "survey", id, map[string]any{"title": title})
	})
	return out, err
}

func (s *Store) UpdateSurvey(ctx context.Context, id model.ID, f remote.Fields) (model.Survey, error) {
	var out model.Survey
	err := s.write(ctx, "update survey", func(tx *sql.Tx) error {
		cur, err := scanSurvey(tx.QueryRowContext(ctx, `SELECT `+surveyCols+` FROM surveys WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return remote.NewNotFoundError("survey " + id.String() + " not found")
		}
		if err != nil {
			return err
		}
		content, err := checkVersion(f, cur.Version, "title")
		if err != nil {
			return err
		}
		if _, err := f.Decode("title", &cur.Title); err != nil {
			return err
		}
		if err := s.check(surveyPayload{Title: cur.Title}); err != nil {
			return err
		}
		if content {
			cur.Version++
		}
		if _, err := tx.ExecContext(ctx, `UPDATE surveys SET title = ?, version = ?, updated_at_unixms = ? WHERE id = ?`,
			cur.Title, cur.Version, s.now().UnixMilli(), id); err != nil {
			return err
		}
		if out, err = s.loadSurvey(ctx, tx, id); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "survey.updated", id, "survey", id, f)
	})
	return out, err
}
