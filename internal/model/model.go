package model

import (
	"strconv"
	"time"
)

// ID identifies a survey entity. Durable ids are assigned by the persistence
// store and are always positive; temporary ids are generated locally and are
// always negative. Zero means "unset".
type ID int64

func (id ID) Durable() bool   { return id > 0 }
func (id ID) Temporary() bool { return id < 0 }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

type Survey struct {
	ID        ID                      `json:"id"`
	Title     string                  `json:"title"`
	Version   int                     `json:"version"`
	Groups    []Group                 `json:"groups"`
	Settings  map[ID]QuestionSettings `json:"settings,omitempty"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

type Group struct {
	ID        ID         `json:"id"`
	SurveyID  ID         `json:"surveyId"`
	Title     string     `json:"title"`
	Position  int        `json:"position"`
	Version   int        `json:"version"`
	Pending   bool       `json:"pending,omitempty"`
	Questions []Question `json:"questions"`
}

type Question struct {
	ID        ID           `json:"id"`
	GroupID   ID           `json:"groupId"`
	Code      string       `json:"code,omitempty"`
	Text      string       `json:"text"`
	HelpText  string       `json:"helpText,omitempty"`
	Type      QuestionType `json:"type"`
	Position  int          `json:"position"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Points    *int         `json:"points,omitempty"`
	Version   int          `json:"version"`
	Pending   bool         `json:"pending,omitempty"`
	Options   []Option     `json:"options"`
}

type Option struct {
	ID            ID      `json:"id"`
	QuestionID    ID      `json:"questionId"`
	Text          string  `json:"text"`
	Position      int     `json:"position"`
	IsSubquestion bool    `json:"isSubquestion,omitempty"`
	Image         *string `json:"image,omitempty"`
	IsCorrect     *bool   `json:"isCorrect,omitempty"`
	Version       int     `json:"version"`
	Pending       bool    `json:"pending,omitempty"`
}

type RequiredMode string

const (
	RequiredOff  RequiredMode = "off"
	RequiredSoft RequiredMode = "soft"
	RequiredHard RequiredMode = "hard"
)

func (m RequiredMode) Valid() bool {
	switch m {
	case RequiredOff, RequiredSoft, RequiredHard:
		return true
	default:
		return false
	}
}

type ConditionKind string

const (
	ConditionQuestion    ConditionKind = "question"
	ConditionParticipant ConditionKind = "participant"
)

// Condition gates the owning question's visibility on a previously recorded
// answer. Participant conditions additionally apply only to TargetQuestionID.
type Condition struct {
	Kind             ConditionKind `json:"kind"`
	SourceQuestionID ID            `json:"sourceQuestionId"`
	RequiredOptionID ID            `json:"requiredOptionId"`
	TargetQuestionID *ID           `json:"targetQuestionId,omitempty"`
}

type QuestionSettings struct {
	Required        RequiredMode `json:"required"`
	Conditions      []Condition  `json:"conditions,omitempty"`
	DefaultScenario int          `json:"defaultScenario"`

	// Type-specific fields; see QuestionType.Spec().Settings for which apply.
	MaxFileSizeKB    int      `json:"maxFileSizeKb,omitempty"`
	AllowedFileTypes []string `json:"allowedFileTypes,omitempty"`
	NumericOnly      bool     `json:"numericOnly,omitempty"`
}

func DefaultSettings() QuestionSettings {
	return QuestionSettings{Required: RequiredOff, DefaultScenario: 1}
}

// Answer is either a single option id or, for multi-select types, a set.
type Answer struct {
	OptionIDs []ID `json:"optionIds"`
}

func SingleAnswer(id ID) Answer { return Answer{OptionIDs: []ID{id}} }

func MultiAnswer(ids ...ID) Answer {
	return Answer{OptionIDs: append([]ID(nil), ids...)}
}

func (a Answer) Contains(id ID) bool {
	for _, x := range a.OptionIDs {
		if x == id {
			return true
		}
	}
	return false
}

// Answers is keyed by question id. It is ephemeral and only feeds visibility
// evaluation in preview/respondent mode.
type Answers map[ID]Answer

func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = MultiAnswer(v.OptionIDs...)
	}
	return out
}
