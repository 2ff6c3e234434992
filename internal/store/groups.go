package store

import (
	"context"
	"database/sql"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

func (s *Store) CreateGroup(ctx context.Context, surveyID model.ID, f remote.Fields) (model.Group, error) {
	var out model.Group
	err := s.write(ctx, "create group", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM surveys WHERE id = ?`, surveyID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return remote.NewNotFoundError("survey " + surveyID.String() + " not found")
		}
		n, err := countChildren(ctx, tx, "survey_groups", "survey_id", surveyID)
		if err != nil {
			return err
		}
		g := model.Group{SurveyID: surveyID, Position: n + 1, Version: 1}
		if _, err := f.Decode("title", &g.Title); err != nil {
			return err
		}
		if err := s.check(groupRules(g)); err != nil {
			return err
		}
		if g.ID, err = s.nextID(ctx, tx, "group"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO survey_groups(id, survey_id, title, position, version) VALUES(?, ?, ?, ?, ?)`,
			g.ID, g.SurveyID, g.Title, g.Position, g.Version); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, surveyID); err != nil {
			return err
		}
		if out, err = s.loadGroup(ctx, tx, g.ID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "group.created", surveyID, "group", g.ID, out)
	})
	return out, err
}

// UpdateGroup changes the title (version checked) and/or the position
// (version free).
func (s *Store) UpdateGroup(ctx context.Context, id model.ID, f remote.Fields) (model.Group, error) {
	var out model.Group
	err := s.write(ctx, "update group", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, id)
		if err != nil {
			return err
		}
		content, err := checkVersion(f, g.Version, "title")
		if err != nil {
			return err
		}
		if _, err := f.Decode("title", &g.Title); err != nil {
			return err
		}
		if _, err := f.Decode("position", &g.Position); err != nil {
			return err
		}
		if err := s.check(groupRules(g)); err != nil {
			return err
		}
		if content {
			g.Version++
		}
		if _, err := tx.ExecContext(ctx, `UPDATE survey_groups SET title = ?, position = ?, version = ? WHERE id = ?`,
			g.Title, g.Position, g.Version, id); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, g.SurveyID); err != nil {
			return err
		}
		if out, err = s.loadGroup(ctx, tx, id); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "group.updated", g.SurveyID, "group", id, f)
	})
	return out, err
}

// DeleteGroup removes the group with its questions, options and settings
// and renumbers the remaining groups.
func (s *Store) DeleteGroup(ctx context.Context, id model.ID) error {
	return s.write(ctx, "delete group", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM survey_groups WHERE id = ?`, id); err != nil {
			return err
		}
		if err := renumber(ctx, tx, "survey_groups", "survey_id", g.SurveyID); err != nil {
			return err
		}
		if err := s.touchSurvey(ctx, tx, g.SurveyID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "group.deleted", g.SurveyID, "group", id, map[string]any{"title": g.Title})
	})
}
