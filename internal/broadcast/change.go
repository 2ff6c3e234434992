package broadcast

import (
	"encoding/json"
	"fmt"

	"surveyor/internal/model"
)

type Kind string

const (
	KindSurvey   Kind = "survey"
	KindGroup    Kind = "group"
	KindQuestion Kind = "question"
	KindOption   Kind = "option"
	KindSettings Kind = "settings"
)

type Op string

const (
	// OpSet updates one field of one entity.
	OpSet Op = "set"
	// OpReplace replaces a whole entity (with its children) from Entity.
	OpReplace Op = "replace"
	// OpDelete removes an entity.
	OpDelete Op = "delete"
	// OpReload tells receivers to re-read the survey from the persistence
	// store; used for structurally large changes.
	OpReload Op = "reload"
)

// Change is a compact, serializable description of one committed mutation.
type Change struct {
	SurveyID model.ID `json:"surveyId"`
	Sender   string   `json:"sender,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`

	Op      Op              `json:"op"`
	Kind    Kind            `json:"kind"`
	ID      model.ID        `json:"id,omitempty"`
	Field   string          `json:"field,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Version int             `json:"version,omitempty"`
	Entity  json.RawMessage `json:"entity,omitempty"`
}

func SetField(kind Kind, id model.ID, field string, value any, version int) (Change, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s.%s: %w", kind, field, err)
	}
	return Change{Op: OpSet, Kind: kind, ID: id, Field: field, Value: b, Version: version}, nil
}

func Replace(kind Kind, id model.ID, entity any) (Change, error) {
	b, err := json.Marshal(entity)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s %d: %w", kind, id, err)
	}
	return Change{Op: OpReplace, Kind: kind, ID: id, Entity: b}, nil
}

func Delete(kind Kind, id model.ID) Change {
	return Change{Op: OpDelete, Kind: kind, ID: id}
}

func Reload() Change {
	return Change{Op: OpReload, Kind: KindSurvey}
}

func (c Change) String() string {
	switch c.Op {
	case OpSet:
		return fmt.Sprintf("%s %s:%d.%s", c.Op, c.Kind, c.ID, c.Field)
	case OpReload:
		return string(c.Op)
	default:
		return fmt.Sprintf("%s %s:%d", c.Op, c.Kind, c.ID)
	}
}
