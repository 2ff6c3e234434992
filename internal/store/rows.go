package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	surveyCols   = `id, title, version, updated_at_unixms`
	groupCols    = `g.id, g.survey_id, g.title, g.position, g.version`
	questionCols = `q.id, q.group_id, q.code, q.text, q.help_text, q.type, q.position, q.max_length, q.points, q.version`
	optionCols   = `o.id, o.question_id, o.text, o.position, o.is_subquestion, o.image, o.is_correct, o.version`
)

func scanSurvey(r scanner) (model.Survey, error) {
	var (
		s       model.Survey
		updated int64
	)
	if err := r.Scan(&s.ID, &s.Title, &s.Version, &updated); err != nil {
		return model.Survey{}, err
	}
	s.UpdatedAt = time.UnixMilli(updated).UTC()
	s.Groups = []model.Group{}
	s.Settings = map[model.ID]model.QuestionSettings{}
	return s, nil
}

func scanGroup(r scanner) (model.Group, error) {
	var g model.Group
	if err := r.Scan(&g.ID, &g.SurveyID, &g.Title, &g.Position, &g.Version); err != nil {
		return model.Group{}, err
	}
	g.Questions = []model.Question{}
	return g, nil
}

func scanQuestion(r scanner) (model.Question, error) {
	var (
		q         model.Question
		typ       string
		maxLength sql.NullInt64
		points    sql.NullInt64
	)
	if err := r.Scan(&q.ID, &q.GroupID, &q.Code, &q.Text, &q.HelpText, &typ, &q.Position, &maxLength, &points, &q.Version); err != nil {
		return model.Question{}, err
	}
	q.Type = model.QuestionType(typ)
	q.MaxLength = nullInt(maxLength)
	q.Points = nullInt(points)
	q.Options = []model.Option{}
	return q, nil
}

func scanOption(r scanner) (model.Option, error) {
	var (
		o         model.Option
		isSub     int
		image     sql.NullString
		isCorrect sql.NullInt64
	)
	if err := r.Scan(&o.ID, &o.QuestionID, &o.Text, &o.Position, &isSub, &image, &isCorrect, &o.Version); err != nil {
		return model.Option{}, err
	}
	o.IsSubquestion = isSub != 0
	if image.Valid {
		v := image.String
		o.Image = &v
	}
	if isCorrect.Valid {
		v := isCorrect.Int64 != 0
		o.IsCorrect = &v
	}
	return o, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolArg(p *bool) any {
	if p == nil {
		return nil
	}
	return boolToInt(*p)
}

func strArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func (s *Store) loadSurvey(ctx context.Context, q querier, id model.ID) (model.Survey, error) {
	out, err := scanSurvey(q.QueryRowContext(ctx, `SELECT `+surveyCols+` FROM surveys WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Survey{}, remote.NewNotFoundError(fmt.Sprintf("survey %d not found", id))
	}
	if err != nil {
		return model.Survey{}, err
	}

	rows, err := q.QueryContext(ctx, `SELECT `+groupCols+` FROM survey_groups g WHERE g.survey_id = ? ORDER BY g.position, g.id`, id)
	if err != nil {
		return model.Survey{}, err
	}
	groupIdx := map[model.ID]int{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return model.Survey{}, err
		}
		groupIdx[g.ID] = len(out.Groups)
		out.Groups = append(out.Groups, g)
	}
	if err := closeRows(rows); err != nil {
		return model.Survey{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT `+questionCols+`
		FROM questions q JOIN survey_groups g ON q.group_id = g.id
		WHERE g.survey_id = ? ORDER BY g.position, q.position, q.id`, id)
	if err != nil {
		return model.Survey{}, err
	}
	type loc struct{ g, q int }
	questionLoc := map[model.ID]loc{}
	for rows.Next() {
		qu, err := scanQuestion(rows)
		if err != nil {
			rows.Close()
			return model.Survey{}, err
		}
		gi := groupIdx[qu.GroupID]
		questionLoc[qu.ID] = loc{gi, len(out.Groups[gi].Questions)}
		out.Groups[gi].Questions = append(out.Groups[gi].Questions, qu)
	}
	if err := closeRows(rows); err != nil {
		return model.Survey{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT `+optionCols+`
		FROM options o JOIN questions q ON o.question_id = q.id JOIN survey_groups g ON q.group_id = g.id
		WHERE g.survey_id = ? ORDER BY o.question_id, o.position, o.id`, id)
	if err != nil {
		return model.Survey{}, err
	}
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			rows.Close()
			return model.Survey{}, err
		}
		l := questionLoc[o.QuestionID]
		qu := &out.Groups[l.g].Questions[l.q]
		qu.Options = append(qu.Options, o)
	}
	if err := closeRows(rows); err != nil {
		return model.Survey{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT st.question_id, st.json
		FROM settings st JOIN questions q ON st.question_id = q.id JOIN survey_groups g ON q.group_id = g.id
		WHERE g.survey_id = ?`, id)
	if err != nil {
		return model.Survey{}, err
	}
	for rows.Next() {
		var (
			qid model.ID
			raw string
		)
		if err := rows.Scan(&qid, &raw); err != nil {
			rows.Close()
			return model.Survey{}, err
		}
		var qs model.QuestionSettings
		if err := json.Unmarshal([]byte(raw), &qs); err != nil {
			rows.Close()
			return model.Survey{}, fmt.Errorf("settings for question %d: %w", qid, err)
		}
		out.Settings[qid] = qs
	}
	if err := closeRows(rows); err != nil {
		return model.Survey{}, err
	}
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) loadGroup(ctx context.Context, q querier, id model.ID) (model.Group, error) {
	g, err := scanGroup(q.QueryRowContext(ctx, `SELECT `+groupCols+` FROM survey_groups g WHERE g.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, remote.NewNotFoundError(fmt.Sprintf("group %d not found", id))
	}
	return g, err
}

// loadQuestion returns the question with its options and the id of the
// survey it belongs to.
func (s *Store) loadQuestion(ctx context.Context, q querier, id model.ID) (model.Question, model.ID, error) {
	var surveyID model.ID
	row := q.QueryRowContext(ctx, `SELECT `+questionCols+`, g.survey_id
		FROM questions q JOIN survey_groups g ON q.group_id = g.id WHERE q.id = ?`, id)
	var (
		qu        model.Question
		typ       string
		maxLength sql.NullInt64
		points    sql.NullInt64
	)
	err := row.Scan(&qu.ID, &qu.GroupID, &qu.Code, &qu.Text, &qu.HelpText, &typ, &qu.Position, &maxLength, &points, &qu.Version, &surveyID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Question{}, 0, remote.NewNotFoundError(fmt.Sprintf("question %d not found", id))
	}
	if err != nil {
		return model.Question{}, 0, err
	}
	qu.Type = model.QuestionType(typ)
	qu.MaxLength = nullInt(maxLength)
	qu.Points = nullInt(points)
	qu.Options = []model.Option{}

	rows, err := q.QueryContext(ctx, `SELECT `+optionCols+` FROM options o WHERE o.question_id = ? ORDER BY o.position, o.id`, id)
	if err != nil {
		return model.Question{}, 0, err
	}
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			rows.Close()
			return model.Question{}, 0, err
		}
		qu.Options = append(qu.Options, o)
	}
	if err := closeRows(rows); err != nil {
		return model.Question{}, 0, err
	}
	return qu, surveyID, nil
}

// loadOption returns the option and the id of the survey it belongs to.
func (s *Store) loadOption(ctx context.Context, q querier, id model.ID) (model.Option, model.ID, error) {
	var (
		o         model.Option
		isSub     int
		image     sql.NullString
		isCorrect sql.NullInt64
		surveyID  model.ID
	)
	err := q.QueryRowContext(ctx, `SELECT `+optionCols+`, g.survey_id
		FROM options o JOIN questions q ON o.question_id = q.id JOIN survey_groups g ON q.group_id = g.id
		WHERE o.id = ?`, id).Scan(&o.ID, &o.QuestionID, &o.Text, &o.Position, &isSub, &image, &isCorrect, &o.Version, &surveyID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Option{}, 0, remote.NewNotFoundError(fmt.Sprintf("option %d not found", id))
	}
	if err != nil {
		return model.Option{}, 0, err
	}
	o.IsSubquestion = isSub != 0
	if image.Valid {
		v := image.String
		o.Image = &v
	}
	if isCorrect.Valid {
		v := isCorrect.Int64 != 0
		o.IsCorrect = &v
	}
	return o, surveyID, nil
}

// renumber rewrites the positions of parentID's children to 1..n, keeping
// their current order.
func renumber(ctx context.Context, tx *sql.Tx, table, parentCol string, parentID model.ID) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+table+` WHERE `+parentCol+` = ? ORDER BY position, id`, parentID)
	if err != nil {
		return err
	}
	var ids []model.ID
	for rows.Next() {
		var id model.ID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := closeRows(rows); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET position = ? WHERE id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return nil
}

func countChildren(ctx context.Context, q querier, table, parentCol string, parentID model.ID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE `+parentCol+` = ?`, parentID).Scan(&n)
	return n, err
}
