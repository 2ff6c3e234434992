package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"surveyor/internal/model"
)

// Event is one committed write, appended in the same transaction.
type Event struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	SurveyID   model.ID        `json:"surveyId"`
	EntityKind string          `json:"entityKind"`
	EntityID   model.ID        `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, typ string, surveyID model.ID, kind string, entityID model.ID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(type, survey_id, entity_kind, entity_id, payload_json, created_at_unixms) VALUES(?, ?, ?, ?, ?, ?)`,
		typ, surveyID, kind, entityID, string(raw), s.now().UnixMilli())
	if err != nil {
		return err
	}
	s.log.Debug("store: event", "type", typ, "survey", surveyID, "entity", entityID)
	return nil
}

// ReadEvents returns the newest limit events, oldest first. A zero surveyID
// reads every survey; limit <= 0 reads everything.
func (s *Store) ReadEvents(ctx context.Context, surveyID model.ID, limit int) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if surveyID != 0 {
		where = append(where, "survey_id = ?")
		args = append(args, surveyID)
	}
	q := `SELECT seq, type, survey_id, entity_kind, entity_id, payload_json, created_at_unixms FROM events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := []Event{}
	for rows.Next() {
		var (
			ev      Event
			payload string
			created int64
		)
		if err := rows.Scan(&ev.Seq, &ev.Type, &ev.SurveyID, &ev.EntityKind, &ev.EntityID, &payload, &created); err != nil {
			rows.Close()
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, ev)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
